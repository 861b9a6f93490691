package secops

import "regexp"

var (
	ipv4Pattern     = regexp.MustCompile(`^(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)$`)
	md5Pattern      = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
	sha1Pattern     = regexp.MustCompile(`^[a-fA-F0-9]{40}$`)
	sha256Pattern   = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	domainPattern   = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z]{2,})+$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	macPattern      = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}([0-9A-Fa-f]{2})$`)
	hostnamePattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
)

// DetectValueType classifies an entity lookup value. IP addresses and file
// hashes are looked up by UDM field path; everything else by value type.
// Both results are empty when the value is not recognized.
func DetectValueType(value string) (fieldPath string, valueType ValueType) {
	switch {
	case ipv4Pattern.MatchString(value):
		return "principal.ip", ""
	case md5Pattern.MatchString(value):
		return "target.file.md5", ""
	case sha1Pattern.MatchString(value):
		return "target.file.sha1", ""
	case sha256Pattern.MatchString(value):
		return "target.file.sha256", ""
	case domainPattern.MatchString(value):
		return "", ValueTypeDomain
	case emailPattern.MatchString(value):
		return "", ValueTypeEmail
	case macPattern.MatchString(value):
		return "", ValueTypeMAC
	case hostnamePattern.MatchString(value):
		return "", ValueTypeHostname
	default:
		return "", ""
	}
}
