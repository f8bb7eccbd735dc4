package preview

import (
	"strings"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"
)

// installConsole routes console output of evaluated snippets to the logger.
func installConsole(vm *goja.Runtime, logger zerolog.Logger) error {
	console := vm.NewObject()
	logAt := func(level zerolog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			logger.WithLevel(level).Str("source", "preview").Msg(joinArgs(call.Arguments))
			return goja.Undefined()
		}
	}
	for name, level := range map[string]zerolog.Level{
		"log":   zerolog.DebugLevel,
		"info":  zerolog.DebugLevel,
		"debug": zerolog.TraceLevel,
		"warn":  zerolog.DebugLevel,
		"error": zerolog.DebugLevel,
	} {
		if err := console.Set(name, logAt(level)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

func joinArgs(args []goja.Value) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil || goja.IsUndefined(a) || goja.IsNull(a) {
			parts = append(parts, "undefined")
			continue
		}
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}
