package uds

type code struct {
	name        string
	description string
}

var services = map[uint8]code{
	0x01: {"OBDII_SHOW_CURRENT", "OBDII - Show current data"},
	0x02: {"OBDII_SHOW_FREEZE", "OBDII - Show freeze data"},
	0x03: {"OBDII_SHOW_STORED_DTC", "OBDII - Show stored DTC codes"},
	0x04: {"OBDII_CLEAR_DTC", "OBDII - Clear current DTC codes"},
	0x05: {"OBDII_TEST_O2", "OBDII - O2 sensor testing"},
	0x06: {"OBDII_TEST_RESULTS", "OBDII - Show emissions testing results"},
	0x07: {"OBDII_SHOW_PENDING_DTC", "OBDII - Show pending DTC codes"},
	0x08: {"OBDII_CONTROL_DEVICES", "OBDII - Control vehicle devices"},
	0x09: {"OBDII_VEH_INFO", "OBDII - Retrieve vehicle information"},
	0x0A: {"OBDII_PERM_DTC", "OBDII - Show permanent DTC codes"},
	0x10: {"DIAG_CONTROL", "Diagnostic session control"},
	0x11: {"ECU_RESET", "Reset ECU"},
	0x12: {"GMLAN_READ_FAILURE_RECORD", "GMLAN - Read failure record"},
	0x14: {"CLEAR_DIAG", "Clear diagnostic trouble codes"},
	0x19: {"READ_DTC", "Read diagnostic trouble codes"},
	0x1A: {"GMLAN_READ_DIAGNOSTIC_ID", "GMLAN - Read diagnostics ID"},
	0x20: {"RETURN_TO_NORMAL", "Return to normal mode"},
	0x22: {"READ_BY_ID", "Read data by ID"},
	0x23: {"READ_BY_ADDR", "Read data by address"},
	0x24: {"READ_SCALING_ID", "Read scaling data by ID"},
	0x27: {"SECURITY_ACCESS", "Request security access"},
	0x28: {"COMM_CTRL", "Communication control"},
	0x29: {"AUTHENTICATION", "Authentication"},
	0x2A: {"READ_DATA_ID_PERIODIC", "Read data by ID periodically"},
	0x2C: {"DYNAMIC_DATA_DEFINE", "Create dynamic data ID"},
	0x2D: {"DEFINE_PID_BY_ADDR", "Create a PID for a given memory address"},
	0x2E: {"WRITE_BY_ID", "Write data by ID"},
	0x2F: {"IO_CTRL", "Input/Output control"},
	0x31: {"ROUTINE_CTRL", "Call a service routine"},
	0x34: {"REQUEST_DOWNLOAD", "Request data download (from tester to ECU)"},
	0x35: {"REQUEST_UPLOAD", "Request data upload (from ECU to tester)"},
	0x36: {"TRANSFER_DATA", "Transfer data"},
	0x37: {"REQ_TRANS_EXIT", "Request that data transfer cease"},
	0x38: {"REQ_FILE_TRANS", "Request file transfer"},
	0x3B: {"GMLAN_WRITE_DID", "GMLAN - Write DID"},
	0x3D: {"WRITE_BY_ADDR", "Write data by address"},
	0x3E: {"TESTER_PRESENT", "Tester is present"},
	0x7F: {"NEG_RESPONSE", "Negative response"},
	0x83: {"ACCESS_TIMING", "Read or write comm timing parameters"},
	0x84: {"SECURED_DATA_TRANS", "Secured data transmission"},
	0x85: {"CTRL_DTC_SETTINGS", "Control DTC settings"},
	0x86: {"RESPONSE_ON_EVENT", "Request start/stop transmission on event"},
	0x87: {"RESPONSE_LINK_CTRL", "Control comm link"},
	0xA2: {"GMLAN_REPORT_PROG_STATE", "GMLAN - Report programming state"},
	0xA5: {"GMLAN_ENTER_PROG_MODE", "GMLAN - Enter programming mode"},
	0xA9: {"GMLAN_CHECK_CODES", "GMLAN - Check codes"},
	0xAA: {"GMLAN_READ_DPID", "GMLAN - Read dynamic PID"},
	0xAE: {"GMLAN_DEVICE_CTRL", "GMLAN - Device control"},
}

var negativeResponses = map[uint8]code{
	0x10: {"GENERAL_REJECT", "General rejection"},
	0x11: {"SERVICE_NOTSUPP", "ECU does not support this service"},
	0x12: {"SUBFUNCT_NOTSUPP", "ECU does not support the requested sub function"},
	0x13: {"INVALID_FORMAT", "Invalid request length or format"},
	0x14: {"RESPONSE_TOOLONG", "Response would be too long to send"},
	0x21: {"BUSY", "ECU is busy, try again later"},
	0x22: {"COND_INCORR", "A precondition was not met"},
	0x24: {"REQ_SEQ_ERR", "Invalid sequence of requests"},
	0x25: {"SUBNET_NORESP", "No response from sub-net component"},
	0x26: {"FAILURE", "A failure is preventing execution of the requested action"},
	0x31: {"REQ_OUTOFRANGE", "A parameter is outside of the valid range"},
	0x33: {"SECURITY_DENIED", "Security access denied"},
	0x35: {"INVALID_KEY", "Key passed was invalid"},
	0x36: {"EXCEED_ATTEMPTS", "Key failed too many times"},
	0x37: {"TIMEDELAY", "Security access requested too soon after last attempt"},
	0x70: {"UPLOAD_DOWNLOAD", "Upload/download not accepted"},
	0x71: {"TRX_SUSPENDED", "Transfer suspended"},
	0x72: {"GEN_PROGRAMMING", "Fault while writing to ECU memory"},
	0x73: {"WRONG_BLOCK_SEQ", "Wrong block sequence counter"},
	0x78: {"RESP_PENDING", "Request accepted, response pending"},
	0x7E: {"SUBFUNCT_CURRSESS", "Sub function not supported in active session"},
	0x7F: {"SERVICE_CURRSESS", "Service not supported in active session"},
	0x81: {"RPM_TOOHIGH", "RPM too high"},
	0x82: {"RPM_TOOLOW", "RPM too low"},
	0x83: {"ENGINE_RUNNING", "Engine is running"},
	0x84: {"ENGINE_NOTRUNNING", "Engine is not running"},
	0x85: {"ENG_RUNTIME_LOW", "Engine run time too low"},
	0x86: {"TEMPERATURE_HIGH", "Temperature too high"},
	0x87: {"TEMPERATURE_LOW", "Temperature too low"},
	0x88: {"SPEED_HIGH", "Vehicle speed too high"},
	0x89: {"SPEED_LOW", "Vehicle speed too low"},
	0x8A: {"PEDAL_HIGH", "Throttle too high"},
	0x8B: {"PEDAL_LOW", "Throttle too low"},
	0x8C: {"NOT_NEUTRAL", "Transmission not in neutral"},
	0x8D: {"NOT_INGEAR", "Transmission not in gear"},
	0x8F: {"BRAKE_NOTPRESSED", "Brake pedal not pressed"},
	0x90: {"NOT_PARK", "Transmission not in park"},
	0x91: {"CLUTCH_LOCKED", "Torque converter clutch locked"},
	0x92: {"VOLTAGE_HIGH", "Voltage too high"},
	0x93: {"VOLTAGE_LOW", "Voltage too low"},
}

func lookupService(service uint8) (code, bool) {
	c, ok := services[service]
	if !ok && service >= PositiveResponseMask && service != NegativeResponse {
		c, ok = services[service-PositiveResponseMask]
	}
	return c, ok
}

// Short name of a service, positive responses resolve to their request
func ServiceName(service uint8) string {
	if c, ok := lookupService(service); ok {
		return c.name
	}
	return "UNKNOWN_CODE"
}

func ServiceDescription(service uint8) string {
	if c, ok := lookupService(service); ok {
		return c.description
	}
	return "Unknown, likely proprietary service"
}

func NegativeResponseName(nrc uint8) string {
	if nrc >= 0x38 && nrc <= 0x4F {
		return "EXT_SECUR"
	}
	if c, ok := negativeResponses[nrc]; ok {
		return c.name
	}
	return "UNKNOWN_NRC"
}

func NegativeResponseDescription(nrc uint8) string {
	if nrc >= 0x38 && nrc <= 0x4F {
		return "Extended security failure code"
	}
	if c, ok := negativeResponses[nrc]; ok {
		return c.description
	}
	return "Unknown negative response code"
}
