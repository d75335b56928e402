package types

type Version struct {
	Version                string `json:"version"`
	ToolVersionRequired    string `json:"toolVersionRequired"`
	ToolVersionRecommended string `json:"toolVersionRecommended"`
}

var CurrentVersion = Version{
	Version:                "1.4.0",
	ToolVersionRequired:    "1.3.0",
	ToolVersionRecommended: "1.4.0",
}
