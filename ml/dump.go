// dump.go - Tensor-Inhalte als Text
// Dieses Modul gibt Tensor-Inhalte fuer Trace-Logs und Tests aus. Grosse
// Tensoren werden pro Dimension auf Anfang und Ende gekuerzt.
package ml

import (
	"math"
	"strconv"
	"strings"
)

// DumpOptions configures tensor dump output format.
type DumpOptions func(*dumpOptions)

// DumpWithPrecision sets the number of decimal places to print.
func DumpWithPrecision(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Precision = n
	}
}

// DumpWithThreshold sets the threshold for printing the entire tensor. If the number of elements
// is less than or equal to this value, the entire tensor will be printed. Otherwise, only the
// beginning and end of each dimension will be printed.
func DumpWithThreshold(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.Threshold = n
	}
}

// DumpWithEdgeItems sets the number of elements to print at the beginning and end of each dimension.
func DumpWithEdgeItems(n int) DumpOptions {
	return func(opts *dumpOptions) {
		opts.EdgeItems = n
	}
}

type dumpOptions struct {
	Precision, Threshold, EdgeItems int
}

// Dump converts a tensor to a human-readable string, outermost dimension
// first.
func Dump(t Tensor, optsFuncs ...DumpOptions) string {
	opts := dumpOptions{Precision: 4, Threshold: 1000, EdgeItems: 3}
	for _, optsFunc := range optsFuncs {
		optsFunc(&opts)
	}

	shape := t.Shape()
	if t.DType().Size() == 0 {
		return "<unsupported>"
	}
	if len(shape) == 0 || Elements(shape...) == 0 {
		return "[]"
	}

	values := t.Floats()
	if len(values) < Elements(shape...) {
		return "<released>"
	}

	if Elements(shape...) <= opts.Threshold {
		opts.EdgeItems = math.MaxInt
	}

	var sb strings.Builder
	var f func(dims []int, offset int)
	f = func(dims []int, offset int) {
		prefix := strings.Repeat(" ", len(shape)-len(dims)+1)
		stride := Elements(dims[1:]...)

		sb.WriteString("[")
		for i := 0; i < dims[0]; i++ {
			if i >= opts.EdgeItems && i < dims[0]-opts.EdgeItems {
				sb.WriteString("..., ")
				if len(dims) > 1 {
					sb.WriteString(strings.Repeat("\n", len(dims)-1) + prefix)
				}
				i = dims[0] - opts.EdgeItems - 1
				continue
			}

			if len(dims) > 1 {
				f(dims[1:], offset+i*stride)
				if i < dims[0]-1 {
					sb.WriteString("," + strings.Repeat("\n", len(dims)-1) + prefix)
				}
				continue
			}

			text := strconv.FormatFloat(float64(values[offset+i]), 'f', opts.Precision, 32)
			if text[0] != '-' {
				sb.WriteString(" ")
			}
			sb.WriteString(text)
			if i < dims[0]-1 {
				sb.WriteString(", ")
			}
		}
		sb.WriteString("]")
	}
	f(shape, 0)

	return sb.String()
}
