package models

// ImageResult is one hit from the image search collaborator
type ImageResult struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Thumb string `json:"thumb"`
	Alt   string `json:"alt"`
	User  string `json:"user"`
	Link  string `json:"link"`
}
