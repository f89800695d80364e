package hostfunc

// Display types

// DisplayRequest is one display() call. HTML is the rendered value, Text its
// plain form for targets that are not a page.
type DisplayRequest struct {
	Target string `json:"target"`
	HTML   string `json:"html"`
	Text   string `json:"text"`
	Append bool   `json:"append"`
}

// HTTP types

// HTTPResponse is what pyfetch sees. URL is the final URL after redirects;
// repeated headers are joined with ", ".
type HTTPResponse struct {
	URL     string            `json:"url"`
	Status  int               `json:"status"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers"`
}
