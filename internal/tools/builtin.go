package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Builtins returns the tools shipped with the server, keyed by name.
func Builtins() map[string]Definition {
	return map[string]Definition{
		"current_time": currentTimeTool(time.Now),
		"calculator":   calculatorTool(),
	}
}

// BuiltinNames lists the built-in tool names, sorted.
func BuiltinNames() []string {
	b := Builtins()
	names := make([]string, 0, len(b))
	for n := range b {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SelectBuiltins returns the named built-in tools in the order given.
func SelectBuiltins(names []string) ([]Definition, error) {
	all := Builtins()
	out := make([]Definition, 0, len(names))
	for _, n := range names {
		d, ok := all[n]
		if !ok {
			return nil, ErrUnknownTool(n)
		}
		out = append(out, d)
	}
	return out, nil
}

func currentTimeTool(now func() time.Time) Definition {
	return Definition{
		Name:        "current_time",
		Description: "Get the current date and time, optionally in a given IANA timezone such as Europe/Paris.",
		Parameters: []Parameter{
			{Name: "timezone", Type: TypeString, Description: "IANA timezone name; defaults to UTC"},
		},
		Handler: func(_ context.Context, args Args) (Args, error) {
			loc := time.UTC
			if tz, ok := args["timezone"].Str(); ok && tz != "" {
				l, err := time.LoadLocation(tz)
				if err != nil {
					return nil, err
				}
				loc = l
			}
			t := now().In(loc)
			return Args{
				"time":     String(t.Format(time.RFC3339)),
				"timezone": String(loc.String()),
				"weekday":  String(t.Weekday().String()),
			}, nil
		},
	}
}

func calculatorTool() Definition {
	return Definition{
		Name:        "calculator",
		Description: "Apply a basic arithmetic operation to two numbers.",
		Parameters: []Parameter{
			{Name: "a", Type: TypeNumber, Description: "left operand", Required: true},
			{Name: "b", Type: TypeNumber, Description: "right operand", Required: true},
			{Name: "operation", Type: TypeString, Description: "one of add, subtract, multiply, divide", Required: true},
		},
		Handler: func(_ context.Context, args Args) (Args, error) {
			a, _ := args["a"].Num()
			b, _ := args["b"].Num()
			op, _ := args["operation"].Str()
			var r float64
			switch op {
			case "add":
				r = a + b
			case "subtract":
				r = a - b
			case "multiply":
				r = a * b
			case "divide":
				if b == 0 {
					return nil, errors.New("division by zero")
				}
				r = a / b
			default:
				return nil, fmt.Errorf("unknown operation %q", op)
			}
			return Args{"result": Number(r)}, nil
		},
	}
}
