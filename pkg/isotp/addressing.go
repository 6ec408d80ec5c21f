package isotp

const (
	functionalID       uint32 = 0x7DF
	normalFixedMask    uint32 = 0x1FFF0000
	normalFixedPhys    uint32 = 0x18DA0000
	obdPhysicalOffset  uint32 = 8
	firstObdResponseID uint32 = 0x7E8
)

// Identifier a tester uses to address the ECU answering on rxID.
// 11 bit identifiers follow the OBD pairing (response = request + 8),
// 29 bit normal fixed identifiers (0x18DAxxyy) swap target and source.
// Anything else is returned unchanged.
func RequestID(rxID uint32) uint32 {
	if rxID <= 0x7FF {
		if rxID < obdPhysicalOffset {
			return rxID
		}
		return rxID - obdPhysicalOffset
	}
	if rxID&normalFixedMask == normalFixedPhys {
		return swapAddresses(rxID)
	}
	return rxID
}

// Identifier on which an answer to a request sent on txID is expected
func ResponseID(txID uint32) uint32 {
	if txID == functionalID {
		return firstObdResponseID
	}
	if txID <= 0x7FF {
		return txID + obdPhysicalOffset
	}
	if txID&normalFixedMask == normalFixedPhys {
		return swapAddresses(txID)
	}
	return txID
}

func swapAddresses(id uint32) uint32 {
	target := (id >> 8) & 0xFF
	source := id & 0xFF
	return normalFixedPhys | source<<8 | target
}
