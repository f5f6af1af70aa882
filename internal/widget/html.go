package widget

import "html/template"

// ElementID is the DOM id the page script reads the widget token from.
const ElementID = "airbyte-widget-token"

// HTML renders the hidden element that hands the token to the page.
func HTML(token string) string {
	return `<div id="` + ElementID + `" data-token="` + template.HTMLEscapeString(token) + `"></div>`
}
