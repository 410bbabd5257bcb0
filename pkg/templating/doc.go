/*
Package templating manages a named set of EJS templates for an application.

A TemplateManager wraps an ejs.Engine with a configuration, a list of known
template names, and a compiled-template cache that is dropped on every
Refresh. Templates are read from the "templates" subdirectory of a data
directory, or from a SQLite-backed store.Store when one is given. In
directory mode, Watch hot-reloads the manager as files change on disk.

	tm, err := templating.NewTemplateManager(logger, nil, templating.DefaultConfig(), "./data")
	if err != nil {
		return err
	}
	err = tm.Execute(w, "pages/home.ejs", map[string]any{"user": user})
*/
package templating
