package tools

import "context"

// Bind returns a registry in which every identity-bound tool is wrapped so the
// model never sees IdentityParam and execution always receives identity.
// Tools without the marker are carried over as the same *Tool.
// The input registry is left untouched.
func Bind(reg *Registry, identity string) *Registry {
	out := NewRegistry()
	if reg == nil {
		return out
	}
	for _, t := range reg.All() {
		if !t.BindsIdentity {
			out.tools[t.Name] = t
			continue
		}
		out.tools[t.Name] = bindIdentity(t, identity)
	}
	return out
}

func bindIdentity(t *Tool, identity string) *Tool {
	props := make(map[string]Property, len(t.Schema.Properties))
	for name, p := range t.Schema.Properties {
		if name == IdentityParam {
			continue
		}
		props[name] = p
	}
	required := make([]string, 0, len(t.Schema.Required))
	for _, name := range t.Schema.Required {
		if name != IdentityParam {
			required = append(required, name)
		}
	}

	inner := t.Execute
	return &Tool{
		Name:        t.Name,
		Description: t.Description,
		Schema:      Schema{Required: required, Properties: props},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			merged := make(map[string]any, len(args)+1)
			for k, v := range args {
				merged[k] = v
			}
			// the bound value wins over anything the model made up
			merged[IdentityParam] = identity
			return inner(ctx, merged)
		},
	}
}
