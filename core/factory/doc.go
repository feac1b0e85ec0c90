// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation. Metrics sinks and storage backends are both built
// this way.
//
// Example usage:
//
//	reg := factory.NewRegistry[store.Backend]()
//	reg.Register("sqlite", func(conf map[string]any) (store.Backend, error) {
//	    var c struct{ Path string `json:"path"` }
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return sqlstore.OpenSQLite(c.Path)
//	})
//	b, err := reg.Create(factory.ModuleConfig{Type: "sqlite", Conf: map[string]any{"path": "slots.db"}})
package factory
