package wa

// MediaKind selects the message type used on the wire.
type MediaKind string

const (
	MediaImage    MediaKind = "image"
	MediaVideo    MediaKind = "video"
	MediaAudio    MediaKind = "audio"
	MediaDocument MediaKind = "document"
)

// KnownMediaKind reports whether kind is one the network can carry.
func KnownMediaKind(kind MediaKind) bool {
	switch kind {
	case MediaImage, MediaVideo, MediaAudio, MediaDocument:
		return true
	}
	return false
}

// Media is a resolved attachment ready to transmit. Exactly one of Data or
// URL is set; URL sources are fetched by the connection before upload.
type Media struct {
	Kind     MediaKind
	Data     []byte
	URL      string
	MimeType string
	FileName string
	Caption  string
}

// Group describes a joined group chat.
type Group struct {
	JID          string
	Name         string
	Participants int
}
