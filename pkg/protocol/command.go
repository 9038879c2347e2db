package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Command names understood by the server. One command per datagram.
const (
	CmdDownload = "DOWNLOAD"
	CmdSize     = "SIZE"
	CmdList     = "LIST"
)

// MaxFilenameLength bounds names carried in text commands.
const MaxFilenameLength = 255

var (
	// ErrMalformedRequest indicates a command with missing or unparsable tokens.
	ErrMalformedRequest = errors.New("malformed request")
	// ErrUnknownCommand indicates a datagram whose first token is not a known command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrInvalidFilename indicates a name that cannot travel in a space-delimited command.
	ErrInvalidFilename = errors.New("invalid filename")
)

// Command is a tokenized text request.
type Command struct {
	Name string
	Args []string
}

// ParseCommand tokenizes a text datagram.
func ParseCommand(b []byte) (Command, error) {
	fields := strings.Fields(string(b))
	if len(fields) == 0 {
		return Command{}, ErrMalformedRequest
	}
	switch fields[0] {
	case CmdDownload, CmdSize, CmdList:
	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, truncateToken(fields[0]))
	}
	return Command{Name: fields[0], Args: fields[1:]}, nil
}

// ChunkRequest asks for Length bytes of Filename starting at Offset.
type ChunkRequest struct {
	Filename string
	Offset   int64
	Length   int64
}

// Encode renders the request as "DOWNLOAD <filename> <offset> <length>".
func (r ChunkRequest) Encode() ([]byte, error) {
	if err := ValidateFilename(r.Filename); err != nil {
		return nil, err
	}
	if r.Offset < 0 || r.Length <= 0 {
		return nil, fmt.Errorf("%w: offset=%d length=%d", ErrMalformedRequest, r.Offset, r.Length)
	}
	b := make([]byte, 0, len(CmdDownload)+len(r.Filename)+44)
	b = append(b, CmdDownload...)
	b = append(b, ' ')
	b = append(b, r.Filename...)
	b = append(b, ' ')
	b = strconv.AppendInt(b, r.Offset, 10)
	b = append(b, ' ')
	b = strconv.AppendInt(b, r.Length, 10)
	return b, nil
}

// ChunkRequest interprets a DOWNLOAD command. Tokens after the length are
// ignored.
func (c Command) ChunkRequest() (ChunkRequest, error) {
	if c.Name != CmdDownload {
		return ChunkRequest{}, fmt.Errorf("%w: %s is not %s", ErrUnknownCommand, c.Name, CmdDownload)
	}
	if len(c.Args) < 3 {
		return ChunkRequest{}, fmt.Errorf("%w: want filename offset length", ErrMalformedRequest)
	}
	if err := ValidateFilename(c.Args[0]); err != nil {
		return ChunkRequest{}, err
	}
	offset, err := strconv.ParseInt(c.Args[1], 10, 64)
	if err != nil || offset < 0 {
		return ChunkRequest{}, fmt.Errorf("%w: bad offset %q", ErrMalformedRequest, truncateToken(c.Args[1]))
	}
	length, err := strconv.ParseInt(c.Args[2], 10, 64)
	if err != nil || length <= 0 {
		return ChunkRequest{}, fmt.Errorf("%w: bad length %q", ErrMalformedRequest, truncateToken(c.Args[2]))
	}
	return ChunkRequest{Filename: c.Args[0], Offset: offset, Length: length}, nil
}

// SizeRequest renders "SIZE <filename>".
func SizeRequest(filename string) ([]byte, error) {
	if err := ValidateFilename(filename); err != nil {
		return nil, err
	}
	return []byte(CmdSize + " " + filename), nil
}

// ListRequest renders "LIST".
func ListRequest() []byte {
	return []byte(CmdList)
}

// Filename returns the single filename argument of a SIZE command.
func (c Command) Filename() (string, error) {
	if len(c.Args) < 1 {
		return "", fmt.Errorf("%w: missing filename", ErrMalformedRequest)
	}
	if err := ValidateFilename(c.Args[0]); err != nil {
		return "", err
	}
	return c.Args[0], nil
}

// ValidateFilename rejects names that are empty, too long, contain
// whitespace, or could escape the served directory.
func ValidateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrInvalidFilename
	}
	if len(name) > MaxFilenameLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidFilename, MaxFilenameLength)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFilename, name)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return fmt.Errorf("%w: %q contains whitespace", ErrInvalidFilename, name)
	}
	return nil
}

func truncateToken(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
