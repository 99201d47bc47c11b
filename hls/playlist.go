package hls

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	masterPlaylistName = "master.m3u8"
	mediaPlaylistName  = "video.m3u8"
	audioGroupID       = "audio_group"
	subtitleGroupID    = "sub_group"
	defaultBandwidth   = "8000000"
)

// writeMasterPlaylist renders the HLS master playlist for a probed source
// into dir and returns the manifest path. Audio tracks become EXT-X-MEDIA
// entries (first one DEFAULT=YES), subtitle tracks point at per-index
// playlists, and a single EXT-X-STREAM-INF references the media playlist.
func writeMasterPlaylist(result *ProbeResult, dir string) (string, error) {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	defaultAudioSet := false
	for _, stream := range result.Streams {
		if stream.CodecType != "audio" {
			continue
		}
		name := stream.Title()
		if name == "" {
			name = fmt.Sprintf("Track %d", stream.Index)
		}
		isDefault := "NO"
		if !defaultAudioSet {
			defaultAudioSet = true
			isDefault = "YES"
		}
		fmt.Fprintf(&b,
			"#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,LANGUAGE=%q,NAME=%q,DEFAULT=%s,AUTOSELECT=YES,URI=%q\n",
			audioGroupID, stream.Language(), name, isDefault, mediaPlaylistName)
	}

	for _, stream := range result.Streams {
		if stream.CodecType != "subtitle" {
			continue
		}
		name := stream.Title()
		if name == "" {
			name = fmt.Sprintf("Subtitle %d", stream.Index)
		}
		fmt.Fprintf(&b,
			"#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID=%q,LANGUAGE=%q,NAME=%q,DEFAULT=NO,AUTOSELECT=YES,URI=\"sub_%d.m3u8\"\n",
			subtitleGroupID, stream.Language(), name, stream.Index)
	}

	bandwidth := result.Format.BitRate
	if bandwidth == "" {
		bandwidth = defaultBandwidth
	}
	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%s,AUDIO=%q,SUBTITLES=%q\n%s\n",
		bandwidth, audioGroupID, subtitleGroupID, mediaPlaylistName)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("hls: creating spool dir: %w", err)
	}
	manifest := filepath.Join(dir, masterPlaylistName)
	if err := os.WriteFile(manifest, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("hls: writing master playlist: %w", err)
	}
	return manifest, nil
}
