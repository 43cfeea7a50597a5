// Package identity derives stable record identities and content fingerprints.
// Identity names which real-world fact a record is; the fingerprint detects
// whether its feature values changed between fetches of the same fact
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	perr "tidemark/internal/platform/errors"
)

// Field is one named value participating in identity or fingerprint
// derivation. Order is the caller's declaration order and is part of
// the hash contract
type Field struct {
	Name  string
	Value any
}

// F is shorthand for building a Field
func F(name string, value any) Field { return Field{Name: name, Value: value} }

// Resolve hashes the identity fields and the feature fields independently.
// Every identity field must be present and non-empty; feature fields may be
// empty. Volatile values (ingestion time, a prior fingerprint, blob refs)
// must not be passed in either list
func Resolve(identityFields, featureFields []Field) (id, fingerprint string, err error) {
	if len(identityFields) == 0 {
		return "", "", perr.Validationf("no identity fields")
	}
	for _, f := range identityFields {
		if isEmpty(f.Value) {
			return "", "", perr.WithField(
				perr.Validationf("missing identity field %q", f.Name), f.Name)
		}
	}
	return hashFields(identityFields), hashFields(featureFields), nil
}

func hashFields(fields []Field) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f.Name))
		h.Write([]byte{0})
		h.Write([]byte(Canonical(f.Value)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Canonical renders a scalar deterministically.
// The rendering is part of the fingerprint contract: changing it changes
// every stored fingerprint, so additions only, never reformat existing kinds
func Canonical(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case time.Time:
		return x.IsZero()
	default:
		return false
	}
}

// IsMissingIdentityField reports whether err came from an absent identity field
func IsMissingIdentityField(err error) bool {
	if !perr.IsCode(err, perr.ErrorCodeValidation) {
		return false
	}
	e, ok := perr.As(err)
	return ok && e.Field() != ""
}
