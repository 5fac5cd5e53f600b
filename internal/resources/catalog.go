package resources

// Descriptor describes a fixed resource for resources/list.
type Descriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// Template describes a parameterized resource for resources/templates/list.
type Template struct {
	URITemplate string `json:"uriTemplate"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

const mimeJSON = "application/json"

// List returns the fixed resources, including the recent-responses view of
// the primary collection.
func (h *Handler) List() []Descriptor {
	collection := h.searcher.Collection()
	return []Descriptor{
		{URI: Scheme + "collections/list", Name: "Collections", Description: "All collections with point counts and index status", MimeType: mimeJSON},
		{URI: Scheme + "collection/" + collection + "/info", Name: "Cache collection", Description: "Statistics of the response cache collection", MimeType: mimeJSON},
		{URI: Scheme + "collection/" + collection + "/responses/recent", Name: "Recent responses", Description: "Most recently cached tool responses", MimeType: mimeJSON},
		{URI: Scheme + "status", Name: "Status", Description: "Connection, configuration and search statistics", MimeType: mimeJSON},
		{URI: Scheme + "cache", Name: "Cache index", Description: "Cached points grouped by tool, newest first", MimeType: mimeJSON},
	}
}

// Templates returns the parameterized resources.
func Templates() []Template {
	return []Template{
		{URITemplate: Scheme + "collection/{name}/info", Name: "Collection info", Description: "Statistics of one collection", MimeType: mimeJSON},
		{URITemplate: Scheme + "collection/{name}/responses/recent", Name: "Recent responses", Description: "Newest records of one collection", MimeType: mimeJSON},
		{URITemplate: Scheme + "collection/{name}/{point_id}", Name: "Point detail", Description: "One cached response with the two nearest responses in time", MimeType: mimeJSON},
		{URITemplate: Scheme + "search/{query}", Name: "Search", Description: "Semantic search over the cache collection", MimeType: mimeJSON},
		{URITemplate: Scheme + "search/{collection}/{query}", Name: "Collection search", Description: "Semantic search within one collection", MimeType: mimeJSON},
	}
}
