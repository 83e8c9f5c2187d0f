package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatd/models"
	"chatd/protocol"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openFileChannel starts a file-channel handler over net.Pipe.
func openFileChannel(t *testing.T, srv *Server) (net.Conn, <-chan struct{}) {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		srv.handleFileConnection(serverConn)
		close(done)
	}()
	t.Cleanup(func() {
		clientConn.Close()
		<-done
	})
	return clientConn, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("file handler did not finish")
	}
}

func readLine(t *testing.T, conn net.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	return strings.TrimSuffix(line, "\n")
}

func announceUpload(t *testing.T, srv *Server, userID, chatID, size int64) *Transfer {
	t.Helper()
	tr := &Transfer{Direction: Upload, UserID: userID, ChatID: chatID, FileName: "photo.jpg", FileSize: size, MediaType: "image", Caption: "look"}
	_, err := srv.transfers.Announce(tr)
	require.NoError(t, err)
	return tr
}

func uploadFiles(t *testing.T, srv *Server) []string {
	t.Helper()
	entries, err := os.ReadDir(srv.config.UploadDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestUploadExactLength(t *testing.T) {
	srv, database := setupTestServer(t)
	alice := createUser(t, database, "+100", "alice")
	chatID := createChat(t, database, alice)
	tr := announceUpload(t, srv, alice, chatID, 1024)

	data := bytes.Repeat([]byte{0xAB}, 1024)
	conn, done := openFileChannel(t, srv)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Write(append([]byte(tr.ID+"\n"), data...))
	require.NoError(t, err)

	assert.Equal(t, "File transfer complete: photo.jpg", readLine(t, conn))
	waitDone(t, done)

	stored, err := os.ReadFile(filepath.Join(srv.config.UploadDir, tr.ID+"_photo.jpg"))
	require.NoError(t, err)
	assert.Equal(t, data, stored)

	messages, err := database.ListChatMessages(chatID, 10, 0)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "image", messages[0].MessageType)
	assert.Equal(t, "look", messages[0].Content)
	require.NotNil(t, messages[0].Media)
	assert.Equal(t, int64(1024), messages[0].Media.FileSize)
	assert.Equal(t, tr.ID, messages[0].Media.TransferID)
	assert.Zero(t, srv.transfers.Len())

	// A replayed id is refused without any bytes read or written.
	replay, replayDone := openFileChannel(t, srv)
	replay.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = replay.Write([]byte(tr.ID + "\n"))
	require.NoError(t, err)
	replay.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = replay.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	waitDone(t, replayDone)

	messages, err = database.ListChatMessages(chatID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, messages, 1)
}

func TestUploadShortReadLeavesNothing(t *testing.T) {
	srv, database := setupTestServer(t)
	alice := createUser(t, database, "+100", "alice")
	chatID := createChat(t, database, alice)
	tr := announceUpload(t, srv, alice, chatID, 1024)

	conn, done := openFileChannel(t, srv)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Write(append([]byte(tr.ID+"\n"), make([]byte, 1000)...))
	require.NoError(t, err)
	conn.Close()
	waitDone(t, done)

	assert.Empty(t, uploadFiles(t, srv), "partial file removed")
	messages, err := database.ListChatMessages(chatID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestUploadIgnoresBytesPastDeclaredLength(t *testing.T) {
	srv, database := setupTestServer(t)
	alice := createUser(t, database, "+100", "alice")
	chatID := createChat(t, database, alice)
	tr := announceUpload(t, srv, alice, chatID, 16)

	conn, done := openFileChannel(t, srv)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Write([]byte(tr.ID + "\n0123456789abcdefEXTRA"))
	require.NoError(t, err)
	assert.Equal(t, "File transfer complete: photo.jpg", readLine(t, conn))
	waitDone(t, done)

	stored, err := os.ReadFile(tr.Path)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(stored))
}

func TestUploadStalledPeerTimesOut(t *testing.T) {
	srv, database := setupTestServer(t)
	srv.config.FileIdleTimeout = 100 * time.Millisecond
	alice := createUser(t, database, "+100", "alice")
	chatID := createChat(t, database, alice)
	tr := announceUpload(t, srv, alice, chatID, 64)

	conn, done := openFileChannel(t, srv)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Write([]byte(tr.ID + "\nhalf"))
	require.NoError(t, err)

	assert.Equal(t, "File transfer failed: Incomplete.", readLine(t, conn))
	waitDone(t, done)
	assert.Empty(t, uploadFiles(t, srv))
}

func TestUnknownTransferIDClosesSilently(t *testing.T) {
	srv, _ := setupTestServer(t)
	conn, done := openFileChannel(t, srv)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := conn.Write([]byte("no-such-transfer\n"))
	require.NoError(t, err)
	waitDone(t, done)
}

func TestDownloadStreamsStoredFile(t *testing.T) {
	srv, database := setupTestServer(t)
	alice := createUser(t, database, "+100", "alice")
	chatID := createChat(t, database, alice)

	content := []byte(strings.Repeat("media bytes ", 500))
	require.NoError(t, os.WriteFile(filepath.Join(srv.config.UploadDir, "abc_clip.mp4"), content, 0o644))
	msg := &models.Message{ChatID: chatID, SenderID: alice, MessageType: "video"}
	media := &models.Media{FileName: "clip.mp4", FilePath: "abc_clip.mp4", FileSize: int64(len(content)), MediaType: "video", UploadedBy: alice}
	_, err := database.CreateMediaMessage(msg, media)
	require.NoError(t, err)

	tc := connect(t, srv)
	tc.login("+100")
	resp := tc.call(protocol.GetFileByMedia, map[string]string{"mediaId": "999"})
	assert.Equal(t, "Media not found.", resp.Message)

	resp = tc.call(protocol.GetFileByMedia, map[string]any{"mediaId": media.ID})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "READY_TO_SEND_FILE", resp.Message)
	ready := payloadOf[struct {
		TransferID string `json:"transfer_id"`
		FileSize   int64  `json:"fileSize"`
	}](t, resp)
	assert.Equal(t, int64(len(content)), ready.FileSize)

	conn, done := openFileChannel(t, srv)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write([]byte(ready.TransferID + "\n"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	got, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	waitDone(t, done)
}

func TestDownloadMissingFile(t *testing.T) {
	srv, _ := setupTestServer(t)
	tr := &Transfer{Direction: Download, UserID: 1, FileName: "gone.txt", Path: filepath.Join(srv.config.UploadDir, "gone.txt")}
	_, err := srv.transfers.Announce(tr)
	require.NoError(t, err)

	conn, done := openFileChannel(t, srv)
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Write([]byte(tr.ID + "\n"))
	require.NoError(t, err)
	assert.Equal(t, "File not found: gone.txt", readLine(t, conn))
	waitDone(t, done)
}

func TestSendMediaAnnounce(t *testing.T) {
	srv, database := setupTestServer(t)
	alice := createUser(t, database, "+100", "alice")
	chatID := createChat(t, database, alice)
	tc := connect(t, srv)
	tc.login("+100")

	resp := tc.call(protocol.SendImage, map[string]any{"chat_id": chatID})
	assert.Equal(t, "Missing file details (name, size) for media transfer.", resp.Message)
	resp = tc.call(protocol.SendMessage, map[string]any{"chat_id": chatID, "media": map[string]any{"file_name": "a.bin", "file_size": 0}})
	assert.Equal(t, "Missing file details (name, size) for media transfer.", resp.Message)
	assert.Zero(t, srv.transfers.Len())

	resp = tc.call(protocol.SendVoiceNote, map[string]any{"chat_id": chatID, "media": map[string]any{"file_name": "note.ogg", "file_size": 10, "media_type": "image"}})
	require.True(t, resp.Success, resp.Message)
	assert.Equal(t, "READY_TO_RECEIVE_FILE", resp.Message)
	id := payloadOf[map[string]string](t, resp)["transfer_id"]
	require.NotEmpty(t, id)

	tr, err := srv.transfers.Take(id)
	require.NoError(t, err)
	assert.Equal(t, "voice", tr.MediaType, "command kind wins over payload")
	assert.Equal(t, chatID, tr.ChatID)
	assert.Equal(t, alice, tr.UserID)
}

// TestEndToEndMediaMessage runs the full scenario over real sockets: an
// announce on the command channel, the upload on the file channel and the
// fan-out to the other participant.
func TestEndToEndMediaMessage(t *testing.T) {
	srv, database := setupTestServer(t)
	alice := createUser(t, database, "+100", "alice")
	bob := createUser(t, database, "+200", "bob")
	chatID := createChat(t, database, alice, bob)

	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()
	cmdAddr, fileAddr, relayAddr := srv.Addrs()
	require.NotNil(t, relayAddr)

	dial := func(phone string) *testClient {
		conn, err := net.Dial("tcp", cmdAddr.String())
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		tc := &testClient{t: t, conn: conn, reader: bufio.NewReader(conn)}
		tc.login(phone)
		return tc
	}
	a := dial("+100")
	b := dial("+200")

	resp := a.call(protocol.SendImage, map[string]any{
		"chat_id": chatID,
		"content": "sunset",
		"media":   map[string]any{"file_name": "sunset.png", "file_size": 1024},
	})
	require.True(t, resp.Success, resp.Message)
	id := payloadOf[map[string]string](t, resp)["transfer_id"]

	fileConn, err := net.Dial("tcp", fileAddr.String())
	require.NoError(t, err)
	defer fileConn.Close()
	_, err = fileConn.Write(append([]byte(id+"\n"), bytes.Repeat([]byte{1}, 1024)...))
	require.NoError(t, err)
	assert.Equal(t, "File transfer complete: sunset.png", readLine(t, fileConn))

	push := b.read()
	assert.Equal(t, protocol.EventNewMessage, push.Message)
	msg := payloadOf[models.Message](t, push)
	assert.Equal(t, "sunset", msg.Content)
	assert.Equal(t, alice, msg.SenderID)
	require.NotNil(t, msg.Media)
	assert.Equal(t, "sunset.png", msg.Media.FileName)
	a.expectSilence(100 * time.Millisecond)

	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Equal(t, protocol.EventShutdown, b.read().Message)
}

func TestShutdownClosesFileConnections(t *testing.T) {
	srv, database := setupTestServer(t)
	srv.config.FileIdleTimeout = time.Minute
	alice := createUser(t, database, "+100", "alice")
	chatID := createChat(t, database, alice)
	tr := announceUpload(t, srv, alice, chatID, 1024)

	require.NoError(t, srv.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()
	_, fileAddr, _ := srv.Addrs()

	// One peer never sends its transfer id, the other stalls mid-upload.
	idle, err := net.Dial("tcp", fileAddr.String())
	require.NoError(t, err)
	defer idle.Close()
	uploading, err := net.Dial("tcp", fileAddr.String())
	require.NoError(t, err)
	defer uploading.Close()
	_, err = uploading.Write(append([]byte(tr.ID+"\n"), make([]byte, 100)...))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return len(srv.fileConns) == 2
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(uploadFiles(t, srv)) == 1 }, 5*time.Second, 10*time.Millisecond)

	started := time.Now()
	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
	assert.Less(t, time.Since(started), 2*time.Second)

	assert.Empty(t, uploadFiles(t, srv), "interrupted upload removed")
	messages, err := database.ListChatMessages(chatID, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
