package ejs

import "strings"

// translateFilters rewrites a pipeline such as
//
//	users | map:"name" | join:", "
//
// into nested filter calls:
//
//	filters.join(filters.map(users, "name"), ", ")
//
// Everything after the first colon of a stage is the argument list, colons
// included, and is spliced in verbatim.
func translateFilters(pipeline string) string {
	stages := strings.Split(pipeline, "|")
	expr := stages[0]
	for _, stage := range stages[1:] {
		name, args, _ := strings.Cut(stage, ":")
		name = strings.TrimSpace(name)
		if strings.TrimSpace(args) != "" {
			expr = "filters." + name + "(" + expr + ", " + args + ")"
		} else {
			expr = "filters." + name + "(" + expr + ")"
		}
	}
	return expr
}
