package solana

import "strings"

const transferMarker = "Instruction: Transfer"

// Classify reports KindTransfer when any log line contains the SPL token
// transfer marker. Substring matching also accepts TransferChecked and
// transactions where the transfer is one of several instructions.
func Classify(logs []string) Kind {
	for _, line := range logs {
		if strings.Contains(line, transferMarker) {
			return KindTransfer
		}
	}
	return KindOther
}
