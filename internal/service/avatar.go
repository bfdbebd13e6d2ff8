package service

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
)

// AvatarFile 上传的头像
type AvatarFile struct {
	Filename    string
	ContentType string
	Data        []byte
}

// 允许的头像类型及落盘扩展名
var avatarExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
}

// Empty 未选择文件或文件为空
func (f *AvatarFile) Empty() bool {
	return f == nil || len(f.Data) == 0
}

// mediaType 优先用声明的类型，缺失时按内容识别
func (f *AvatarFile) mediaType() string {
	ct := f.ContentType
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(f.Data)
	}
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// validateAvatar 空文件视为未上传；返回落盘扩展名
func validateAvatar(f *AvatarFile, maxBytes int64) (string, error) {
	if f.Empty() {
		return "", nil
	}

	ext, ok := avatarExtensions[f.mediaType()]
	if !ok {
		return "", invalid("avatar", "只支持 JPG、PNG、GIF 格式的图片")
	}
	if int64(len(f.Data)) > maxBytes {
		return "", invalid("avatar", fmt.Sprintf("图片大小不能超过 %s", humanize.IBytes(uint64(maxBytes))))
	}
	return ext, nil
}
