package services

import (
	"strings"
	"testing"

	"github.com/campusbridge/alumni-connect/internal/models"
	apperrors "github.com/campusbridge/alumni-connect/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeMessageContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		kind    models.MessageKind
		want    string
		wantErr bool
	}{
		{name: "trims", content: "  hello  ", kind: models.MessageKindText, want: "hello"},
		{name: "empty", content: "", kind: models.MessageKindText, wantErr: true},
		{name: "whitespace", content: " \n\t", kind: models.MessageKindText, wantErr: true},
		{name: "strips script", content: "hi<script>alert(1)</script>", kind: models.MessageKindText, want: "hi"},
		{name: "only script", content: "<script>x</script>", kind: models.MessageKindText, wantErr: true},
		{name: "strips handlers", content: `<img src=x onerror=alert(1)>`, kind: models.MessageKindImage, want: `<img src=x alert(1)>`},
		{name: "bad kind", content: "hi", kind: "sticker", wantErr: true},
		{name: "too long", content: strings.Repeat("a", 41), kind: models.MessageKindText, wantErr: true},
		{name: "multibyte within limit", content: strings.Repeat("é", 40), kind: models.MessageKindText, want: strings.Repeat("é", 40)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizeMessageContent(tt.content, tt.kind, 40)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.Is(err, apperrors.KindValidation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitizeMessageContent_CaptionLimit(t *testing.T) {
	caption := strings.Repeat("c", MaxAttachmentCaption+1)
	_, err := SanitizeMessageContent(caption, models.MessageKindFile, DefaultMaxMessageLength)
	assert.Error(t, err)

	_, err = SanitizeMessageContent(caption, models.MessageKindText, DefaultMaxMessageLength)
	assert.NoError(t, err)
}

func TestParseMessageKind(t *testing.T) {
	assert.Equal(t, models.MessageKindText, ParseMessageKind(""))
	assert.Equal(t, models.MessageKindImage, ParseMessageKind("IMAGE"))
	assert.False(t, ParseMessageKind("gif").Valid())
}
