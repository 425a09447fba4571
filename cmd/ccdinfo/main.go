// Command ccdinfo inspects a FITS image as a CCD frame: it prints the
// shape, unit, attached mask/uncertainty/WCS and pixel statistics, and can
// apply a scalar operation, write the result back, or save a stretched
// TIFF preview.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"ccdframe/pkg/ccdframe"
	"ccdframe/pkg/units"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("ccdinfo", flag.ContinueOnError)
	var (
		unit    = fs.String("unit", "", "unit of the pixel data, overriding the file's BUNIT")
		hdu     = fs.Int("hdu", 0, "index of the record to read the payload from")
		mulArg  = fs.String("mul", "", "multiply the frame by a scalar, e.g. '2' or '1.5 electron / adu'")
		addArg  = fs.String("add", "", "add a scalar to the frame, e.g. '100' or '0.5 adu'")
		output  = fs.String("o", "", "write the (possibly modified) frame to this FITS file")
		preview = fs.String("preview", "", "write a stretched 16-bit TIFF preview to this file")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: ccdinfo [flags] <input.fits>")
	}
	path := fs.Arg(0)

	frame, err := ccdframe.ReadFile(path, ccdframe.ReadOptions{HDU: *hdu, Unit: *unit})
	if err != nil {
		return err
	}

	if *mulArg != "" {
		op, err := parseOperand(*mulArg)
		if err != nil {
			return fmt.Errorf("parsing -mul: %w", err)
		}
		frame, err = frame.Multiply(op, ccdframe.CoordFirstFound)
		if err != nil {
			return err
		}
	}
	if *addArg != "" {
		op, err := parseOperand(*addArg)
		if err != nil {
			return fmt.Errorf("parsing -add: %w", err)
		}
		frame, err = frame.Add(op, ccdframe.CoordFirstFound)
		if err != nil {
			return err
		}
	}

	printSummary(path, frame)

	if *output != "" {
		if err := ccdframe.WriteFile(frame, *output, ccdframe.WriteOptions{}); err != nil {
			return err
		}
		fmt.Printf("Wrote: %s\n", *output)
	}
	if *preview != "" {
		w, err := os.Create(*preview)
		if err != nil {
			return fmt.Errorf("creating preview: %w", err)
		}
		defer w.Close()
		if err := ccdframe.WritePreview(w, frame); err != nil {
			return err
		}
		fmt.Printf("Preview: %s\n", *preview)
	}
	return nil
}

// parseOperand turns "value [unit]" into an arithmetic operand. A bare
// number becomes a plain scalar so it adapts to the frame's own unit.
func parseOperand(s string) (ccdframe.Operand, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ccdframe.Operand{}, fmt.Errorf("invalid operand %q", s)
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return ccdframe.Operand{}, fmt.Errorf("invalid operand %q: %w", s, err)
	}
	if len(fields) == 1 {
		return ccdframe.ScalarOp(value), nil
	}
	q, err := units.NewQuantity(value, strings.Join(fields[1:], " "))
	if err != nil {
		return ccdframe.Operand{}, err
	}
	return ccdframe.QuantityOp(q), nil
}

func printSummary(path string, f *ccdframe.Frame) {
	shape := f.Shape()
	fmt.Printf("=== %s ===\n", path)
	fmt.Printf("  Shape:       %v (%d pixels, %s)\n", shape, f.Size(), f.DType())
	fmt.Printf("  Unit:        %s\n", orNone(f.Unit().String()))
	if m := f.Mask(); m != nil {
		invalid := 0
		for _, bit := range m.Bits {
			if bit {
				invalid++
			}
		}
		fmt.Printf("  Mask:        %d invalid pixels\n", invalid)
	} else {
		fmt.Println("  Mask:        none")
	}
	if u := f.Uncertainty(); u != nil {
		fmt.Printf("  Uncertainty: standard deviation, %d values\n", len(u.Array))
	} else {
		fmt.Println("  Uncertainty: none")
	}
	if w := f.WCS(); w.Usable() {
		fmt.Printf("  WCS:         %d axes, CTYPE1=%s\n", w.NAxes, w.Axes[0].CType)
	} else {
		fmt.Println("  WCS:         none")
	}
	fmt.Printf("  Stats:       %s\n", f.Stats())
	fmt.Printf("  Metadata:    %d cards\n", f.Meta().Len())
}

func orNone(s string) string {
	if s == "" {
		return "dimensionless"
	}
	return s
}
