package querying

import (
	"log/slog"
	"strings"
)

// stage is one module of an extension point with the controls that can
// enable it, in configuration order.
type stage struct {
	name     string
	controls []string
}

// parseStages reads an order list ("A,B") and a control list
// ("ctl:A,other:B,ctl2:A") into descriptors. Malformed pairs are logged and
// skipped.
func parseStages(point, order, controls string, logger *slog.Logger) []stage {
	type pair struct{ control, module string }
	var pairs []pair
	for _, item := range splitList(controls) {
		at := strings.IndexByte(item, ':')
		if at <= 0 || at == len(item)-1 {
			logger.Warn("malformed stage control", "point", point, "entry", item)
			continue
		}
		pairs = append(pairs, pair{
			control: strings.ToLower(strings.TrimSpace(item[:at])),
			module:  strings.TrimSpace(item[at+1:]),
		})
	}

	var out []stage
	for _, name := range splitList(order) {
		st := stage{name: name}
		for _, p := range pairs {
			if p.module == name {
				st.controls = append(st.controls, p.control)
			}
		}
		if len(st.controls) == 0 {
			logger.Warn("stage has no enabling control", "point", point, "stage", name)
		}
		out = append(out, st)
	}
	return out
}

// selectStages returns the stages enabled by controls. A stage is enabled
// by the first of its controls holding a truthy value; later controls for
// that stage are not consulted. Unless all is set, only the first enabled
// stage is returned.
func selectStages(stages []stage, controls map[string]string, all bool) []string {
	var out []string
	for _, st := range stages {
		for _, c := range st.controls {
			v, ok := controls[c]
			if !ok {
				continue
			}
			if truthy(v) {
				out = append(out, st.name)
				break
			}
		}
		if len(out) > 0 && !all {
			break
		}
	}
	return out
}

// truthy is false for "", "off" and "false", in any case.
func truthy(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.EqualFold(v, "off") && !strings.EqualFold(v, "false")
}

// parseControls reads "name:value,name2:value2". Names are lower-cased.
func parseControls(s string) map[string]string {
	out := make(map[string]string)
	for _, item := range splitList(s) {
		at := strings.IndexByte(item, ':')
		if at <= 0 {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(item[:at]))] = strings.TrimSpace(item[at+1:])
	}
	return out
}

func parseSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, item := range splitList(s) {
		out[strings.ToLower(item)] = true
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
