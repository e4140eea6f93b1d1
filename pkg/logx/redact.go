package logx

import "strings"

// Redacted replaces the value of a sensitive field.
const Redacted = "[REDACTED]"

// DefaultRedactKeys are field names whose values never reach the output.
var DefaultRedactKeys = []string{
	"password",
	"new_password",
	"one_time_code",
	"reset_token",
	"access_token",
	"refresh_token",
	"secret",
	"authorization",
}

type redactor map[string]struct{}

func newRedactor(keys []string) redactor {
	r := make(redactor, len(keys))
	for _, k := range keys {
		r[strings.ToLower(k)] = struct{}{}
	}
	return r
}

// apply returns fields with sensitive values masked. fields itself is left
// untouched since entries may share it.
func (r redactor) apply(fields Fields) Fields {
	if len(r) == 0 || len(fields) == 0 {
		return fields
	}

	var out Fields
	for k := range fields {
		if _, ok := r[strings.ToLower(k)]; !ok {
			continue
		}
		if out == nil {
			out = make(Fields, len(fields))
			for kk, vv := range fields {
				out[kk] = vv
			}
		}
		out[k] = Redacted
	}
	if out == nil {
		return fields
	}
	return out
}
