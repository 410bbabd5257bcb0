/*
Package ejs compiles embedded JavaScript templates into render functions.

A template is literal text with tags between configurable delimiters
(default "<%" and "%>"):

	<%  code  %>   runs code
	<%= expr  %>   writes expr, HTML-escaped
	<%- expr  %>   writes expr unescaped
	<%=: items | first | capitalize %>   pipes a value through filters
	<% include header %>                 inlines another template
	<% extend layout %>                  renders inside a parent layout
	<% block content %> ... <% endblock %>
	<% sblock content %>                 writes a block captured elsewhere

A "-" directly before the close delimiter swallows the newline that follows
the tag.

Compilation produces JavaScript that builds the output in a buffer. Programs
run in goja, one fresh runtime per render, with the render data available as
bare names unless NoContextBinding is set, and always through locals. Unless
NoCompileDebug is set, a runtime failure comes back as a *RenderError showing
the offending template lines.

Most callers use an Engine. The zero RenderOptions is ready to use:

	e := ejs.New(ejs.WithLogger(logger))
	out, err := e.Render(src, ejs.RenderOptions{Locals: data})
*/
package ejs
