package reference

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gowebpki/jcs"
	"github.com/kaptinlin/jsonschema"

	etaterrors "github.com/harunnryd/etat/internal/errors"
)

//go:embed template.schema.json
var templateSchema []byte

var (
	compiledOnce sync.Once
	compiled     *jsonschema.Schema
	compileErr   error
)

func loadSchema() (*jsonschema.Schema, error) {
	compiledOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiled, compileErr = compiler.Compile(templateSchema)
		if compileErr != nil {
			compileErr = fmt.Errorf("compile template schema: %w", compileErr)
		}
	})
	return compiled, compileErr
}

// ValidatePayload checks the minimal shape the engine relies on.
func ValidatePayload(raw []byte) error {
	schema, err := loadSchema()
	if err != nil {
		return etaterrors.WrapWithCategory(err, "template schema", etaterrors.ErrInternal)
	}
	result := schema.ValidateJSON(raw)
	if result.IsValid() {
		return nil
	}
	return etaterrors.InvalidInput(fmt.Sprintf("template failed schema validation: %v", result.Errors))
}

// Digest returns the sha256 of the RFC 8785 canonical form of raw, so the
// same template served with different key order or spacing hashes equal.
func Digest(raw []byte) (string, error) {
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize template: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
