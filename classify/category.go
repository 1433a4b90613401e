package classify

import "strings"

// Category is the closed taxonomy every consumer observes. Raw strategy
// output is free text and must pass through Normalize before leaving this
// package.
type Category string

const (
	Documents     Category = "documents"
	Images        Category = "images"
	Videos        Category = "videos"
	Audio         Category = "audio"
	Archives      Category = "archives"
	Code          Category = "code"
	Spreadsheets  Category = "spreadsheets"
	Presentations Category = "presentations"
	Executables   Category = "executables"
	Others        Category = "others"
)

// AllCategories lists the taxonomy in reporting order.
var AllCategories = []Category{
	Documents, Images, Videos, Audio, Archives,
	Code, Spreadsheets, Presentations, Executables, Others,
}

var canonical = map[string]Category{
	"documents":     Documents,
	"images":        Images,
	"videos":        Videos,
	"audio":         Audio,
	"archives":      Archives,
	"code":          Code,
	"spreadsheets":  Spreadsheets,
	"presentations": Presentations,
	"executables":   Executables,
	"others":        Others,
}

// Normalize collapses a raw label into the taxonomy. Noisy labels from the
// learned strategy (suspicious, unknown, temporary) and anything unrecognized
// map to Others. Normalize is idempotent.
func Normalize(raw string) Category {
	label := strings.ToLower(strings.TrimSpace(raw))
	if category, ok := canonical[label]; ok {
		return category
	}
	return Others
}

var extensionTable = map[string]Category{
	".pdf": Documents, ".doc": Documents, ".docx": Documents, ".txt": Documents,
	".rtf": Documents, ".odt": Documents, ".md": Documents, ".epub": Documents,

	".jpg": Images, ".jpeg": Images, ".png": Images, ".gif": Images,
	".bmp": Images, ".tiff": Images, ".svg": Images, ".webp": Images, ".heic": Images,

	".mp4": Videos, ".avi": Videos, ".mkv": Videos, ".mov": Videos,
	".wmv": Videos, ".flv": Videos, ".webm": Videos, ".m4v": Videos,

	".mp3": Audio, ".wav": Audio, ".flac": Audio, ".aac": Audio,
	".ogg": Audio, ".wma": Audio, ".m4a": Audio, ".opus": Audio,

	".zip": Archives, ".rar": Archives, ".7z": Archives, ".tar": Archives,
	".gz": Archives, ".bz2": Archives, ".xz": Archives, ".iso": Archives,

	".py": Code, ".go": Code, ".js": Code, ".ts": Code, ".c": Code,
	".cpp": Code, ".h": Code, ".java": Code, ".rb": Code, ".rs": Code,
	".sh": Code, ".html": Code, ".css": Code, ".json": Code, ".xml": Code,
	".yaml": Code, ".yml": Code, ".sql": Code,

	".xls": Spreadsheets, ".xlsx": Spreadsheets, ".csv": Spreadsheets, ".ods": Spreadsheets,

	".ppt": Presentations, ".pptx": Presentations, ".odp": Presentations, ".key": Presentations,

	".exe": Executables, ".msi": Executables, ".dll": Executables,
	".bat": Executables, ".cmd": Executables, ".com": Executables,
	".scr": Executables, ".app": Executables, ".deb": Executables, ".rpm": Executables,
}

// ByExtension resolves the static rule table. Unknown extensions map to
// Others.
func ByExtension(extension string) Category {
	if category, ok := extensionTable[strings.ToLower(extension)]; ok {
		return category
	}
	return Others
}
