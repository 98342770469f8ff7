package enum

type Decision string

const (
	DecisionAllow Decision = "allow"
	DecisionSafe  Decision = "safe"
	DecisionBlock Decision = "block"
)

func (d Decision) String() string {
	return string(d)
}

type DNSStatus string

const (
	DNSStatusPending  DNSStatus = "pending"
	DNSStatusVerified DNSStatus = "verified"
	DNSStatusFailed   DNSStatus = "failed"
)

func (s DNSStatus) String() string {
	return string(s)
}

type SSLStatus string

const (
	SSLStatusPending      SSLStatus = "pending"
	SSLStatusProvisioning SSLStatus = "provisioning"
	SSLStatusActive       SSLStatus = "active"
	SSLStatusFailed       SSLStatus = "failed"
)

func (s SSLStatus) String() string {
	return string(s)
}

type EventType string

const (
	EventClick EventType = "click"
	EventAllow EventType = "allow"
	EventBlock EventType = "block"
)

func (t EventType) String() string {
	return string(t)
}

func GetEventType(s string) EventType {
	return EventType(s)
}

type DeviceCategory string

const (
	DeviceDesktop DeviceCategory = "desktop"
	DeviceMobile  DeviceCategory = "mobile"
	DeviceTablet  DeviceCategory = "tablet"
	DeviceBot     DeviceCategory = "bot"
	DeviceUnknown DeviceCategory = "unknown"
)

func (d DeviceCategory) String() string {
	return string(d)
}
