package typesystem

import (
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// convertTo attempts an unsafe (narrowing-allowed) conversion of v to type
// t, the same conversion rule the reference stack's schema layer uses to
// let a config author write "8080" where a number is wanted.
func convertTo(v cty.Value, t cty.Type) (cty.Value, error) {
	return convert.Convert(v, t)
}
