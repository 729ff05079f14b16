package ssh

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
)

// createSFTPClient opens an SFTP session on the current connection.
func (c *SSHClient) createSFTPClient() (*sftp.Client, error) {
	sshClient, err := c.getClient()
	if err != nil {
		return nil, err
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}

	return sftpClient, nil
}

// WriteFile writes data to remotePath on the remote host via SFTP. The data
// is written to a temporary name next to remotePath and renamed over it, so
// remotePath is never truncated in place. That matters on a shared
// filesystem where remotePath may be the file data was read from.
func (c *SSHClient) WriteFile(ctx context.Context, remotePath string, data []byte, mode uint32) error {
	startTime := time.Now()

	log.Debug().
		Str("remote", remotePath).
		Int("bytes", len(data)).
		Msg("writing remote file")

	sftpClient, err := c.createSFTPClient()
	if err != nil {
		return err
	}
	defer sftpClient.Close()

	// Remote paths are always slash separated.
	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to create remote directory: %w", err),
		}
	}

	tmpPath := path.Join(path.Dir(remotePath), "."+path.Base(remotePath)+".partial")
	remoteFile, err := sftpClient.Create(tmpPath)
	if err != nil {
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to create remote file: %w", err),
			IsTemporary: true,
		}
	}

	bytesWritten, err := copyWithContext(ctx, remoteFile, bytes.NewReader(data))
	if cerr := remoteFile.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = sftpClient.Remove(tmpPath)
		return &TransportError{
			Op:          "upload",
			Err:         fmt.Errorf("failed to copy file: %w", err),
			IsTemporary: ctx.Err() == nil,
		}
	}

	if mode > 0 {
		if err := sftpClient.Chmod(tmpPath, os.FileMode(mode)); err != nil {
			log.Warn().Err(err).Str("remote", remotePath).Msg("failed to set file permissions")
		}
	}

	if err := sftpClient.PosixRename(tmpPath, remotePath); err != nil {
		_ = sftpClient.Remove(tmpPath)
		return &TransportError{
			Op:  "upload",
			Err: fmt.Errorf("failed to move %s into place: %w", tmpPath, err),
		}
	}

	log.Info().
		Str("remote", remotePath).
		Int64("bytes", bytesWritten).
		Dur("duration", time.Since(startTime)).
		Msg("remote file written")

	return nil
}

// copyWithContext copies in chunks so a cancelled context stops large transfers.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}

		nr, rerr := src.Read(buf)
		if nr > 0 {
			nw, werr := dst.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
			if nw != nr {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
