package sound

// 音效名称, matching the asset file base names.
const (
	Message = "message"
)

// DefaultDir is where the client looks for sound assets.
const DefaultDir = "assets/sounds"
