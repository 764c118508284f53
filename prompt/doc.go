// Package prompt renders the text sent to AI providers at each pipeline step.
//
// A Renderer maps a template identifier plus a field mapping to a literal
// prompt. TemplateRenderer is the default implementation: a registry of
// text/template templates whose required fields are derived from the
// template body itself. Built-in templates reproduce the plain concatenation
// formats of the pipeline and can be overridden one by one or from a
// directory of *.tmpl files.
package prompt
