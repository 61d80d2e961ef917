package sessionio

import (
	_ "embed"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	cuejson "cuelang.org/go/encoding/json"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce sync.Once
	schemaCtx  *cue.Context
	schemaVal  cue.Value
	schemaErr  error
)

func loadSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		schemaVal = schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		schemaErr = schemaVal.Err()
	})
	return schemaCtx, schemaVal, schemaErr
}

// validateShape checks JSON data against a definition of the embedded
// session schema, e.g. "#Body".
func validateShape(def, filename string, data []byte) error {
	ctx, schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("session schema: %w", err)
	}

	expr, err := cuejson.Extract(filename, data)
	if err != nil {
		return formatCUEError(err)
	}
	value := ctx.BuildExpr(expr)
	if err := value.Err(); err != nil {
		return formatCUEError(err)
	}

	unified := schema.LookupPath(cue.ParsePath(def)).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError reduces a CUE error list to its first error, with position
// info when CUE has it.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		return fmt.Errorf("%s:%d:%d: %s", pos[0].Filename(), pos[0].Line(), pos[0].Column(), first.Error())
	}
	return first
}
