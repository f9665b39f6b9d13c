package webhook

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/rl1809/escrow-relay/internal/core/domain"
)

// ErrIgnored marks a well-formed notification that does not describe a finished payment.
var ErrIgnored = errors.New("notification ignored")

func validateJSONSchema(schema *gojsonschema.Schema, body []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("%w: malformed payload: %v", domain.ErrValidation, err)
	}
	if !result.Valid() {
		var sb strings.Builder
		for i, e := range result.Errors() {
			if i > 0 {
				sb.WriteString("; ")
			}
			sb.WriteString(e.String())
		}
		return fmt.Errorf("%w: payload does not conform to schema: %s", domain.ErrValidation, sb.String())
	}
	return nil
}

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("compile webhook schema: %v", err))
	}
	return schema
}

// EventKey identifies one delivery of a provider notification. Retries of the same body
// share a key; a corrected payload for the same transaction gets a new one.
func EventKey(provider string, body []byte) string {
	sum := sha256.Sum256(body)
	return "webhook:" + provider + ":" + hex.EncodeToString(sum[:])
}
