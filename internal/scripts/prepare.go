package scripts

import (
	"bytes"
	"fmt"
	"text/template"
)

// Prepared is a request ready to show or run.
type Prepared struct {
	Collection  string
	Request     Request
	Environment string
	Env         map[string]string
	Script      string
}

// Prepare merges the collection's environment with server-wide values and
// overrides (later sources win) and renders the request script as a
// text/template against the result. The collection must define env.
func Prepare(coll *Collection, title, env string, base, overrides map[string]string) (*Prepared, error) {
	req, err := coll.Request(title)
	if err != nil {
		return nil, err
	}
	own, ok := coll.Environment[env]
	if !ok {
		return nil, fmt.Errorf("environment %q in %s: %w", env, coll.Path, ErrNotFound)
	}
	merged := mergeEnv(own, base, overrides)
	tmpl, err := template.New(coll.Path + "." + req.Title).Parse(req.Script)
	if err != nil {
		return nil, fmt.Errorf("prepare %s: %w", req.Title, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, merged); err != nil {
		return nil, fmt.Errorf("prepare %s: %w", req.Title, err)
	}
	return &Prepared{
		Collection:  coll.Path,
		Request:     req,
		Environment: env,
		Env:         merged,
		Script:      buf.String(),
	}, nil
}

func mergeEnv(maps ...map[string]string) map[string]string {
	out := map[string]string{}
	for _, m := range maps {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}
