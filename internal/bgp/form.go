package bgp

// Form records which encodings of a capability a speaker advertised:
// the pre-standard capability code, the RFC one, or both. Route refresh
// and ORF prefix-list each carry one aggregate Form, independent of any
// per-family bits.
type Form uint8

const (
	FormNone Form = 0
	FormPre  Form = 1 << 0
	FormRFC  Form = 1 << 1
	FormBoth Form = FormPre | FormRFC
)

func (f Form) String() string {
	switch f {
	case FormNone:
		return "none"
	case FormPre:
		return "pre-standard"
	case FormRFC:
		return "rfc"
	case FormBoth:
		return "both"
	}
	return "invalid"
}
