package modbus

// Static identity strings, returned by the default backend's
// GetBasicDeviceIdentification and used to answer function code 0x2B
// (read device identification) when no application-specific backend
// overrides it.
const (
	VendorName         = "mboxid"
	ProductCode        = "modbus-go"
	MajorMinorRevision = "1.0"
)
