// Package handlers implements the command surface (C8): a thin gin layer
// that binds the §6 command table to JSON endpoints and translates session,
// store, crypto, and attachment errors into HTTP status codes. No business
// logic lives here — every handler is a parse-call-respond shim around the
// session controller.
package handlers

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cipherpad/engine/src/attachment"
	cpcrypto "github.com/cipherpad/engine/src/crypto"
	"github.com/cipherpad/engine/src/session"
	"github.com/cipherpad/engine/src/store"
)

// OpenRequest is the body of POST /cipherpad/open.
type OpenRequest struct {
	Path string `json:"path" binding:"required"`
}

// UnlockRequest is the body of POST /cipherpad/unlock.
type UnlockRequest struct {
	Password string `json:"password" binding:"required"`
}

// CreatePadRequest is the body of POST /cipherpad/pads.
type CreatePadRequest struct {
	ParentID *uuid.UUID `json:"parentId"`
	Metadata string     `json:"metadata" binding:"required"`
	Data     string     `json:"data"`
}

// UpdatePadRequest is the body of PUT /cipherpad/pads/:id.
type UpdatePadRequest struct {
	ParentID *uuid.UUID `json:"parentId"`
	Metadata string     `json:"metadata" binding:"required"`
	Data     string     `json:"data"`
}

// OpenHandler handles open_or_create_cipherpad: opens (or creates) the
// store file at the requested path.
func OpenHandler(sess *session.Session, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req OpenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
			return
		}

		if err := sess.OpenOrCreate(c.Request.Context(), req.Path); err != nil {
			logger.WithError(err).Error("open_or_create_cipherpad failed")
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"state": sess.State()})
	}
}

// UnlockHandler handles unlock_cipherpad: derives the master key and
// validates it against every existing pad's metadata envelope.
func UnlockHandler(sess *session.Session, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UnlockRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password is required"})
			return
		}

		tree, err := sess.Unlock(c.Request.Context(), req.Password)
		if err != nil {
			if !errors.Is(err, cpcrypto.ErrCryptoFailure) {
				logger.WithError(err).Warn("unlock_cipherpad failed")
			}
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"tree": tree})
	}
}

// GetNodeTreeHandler handles get_node_tree: re-reads the store and
// reconstructs the forest.
func GetNodeTreeHandler(sess *session.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		tree, err := sess.GetNodeTree(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, tree)
	}
}

// GetPadMapHandler handles get_pad_map: returns the cached decrypted pad
// map without re-querying the store.
func GetPadMapHandler(sess *session.Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		padMap, err := sess.GetPadMap()
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, padMap)
	}
}

// CreatePadHandler handles create_pad.
func CreatePadHandler(sess *session.Session, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata is required"})
			return
		}

		id, err := sess.CreatePad(c.Request.Context(), req.ParentID, req.Metadata, req.Data)
		if err != nil {
			logger.WithError(err).Error("create_pad failed")
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": id})
	}
}

// UpdatePadHandler handles update_pad.
func UpdatePadHandler(sess *session.Session, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pad id"})
			return
		}

		var req UpdatePadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata is required"})
			return
		}

		if err := sess.UpdatePad(c.Request.Context(), id, req.ParentID, req.Metadata, req.Data); err != nil {
			logger.WithError(err).Error("update_pad failed")
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": id})
	}
}

// DeletePadHandler handles delete_pad.
func DeletePadHandler(sess *session.Session, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pad id"})
			return
		}

		if err := sess.DeletePad(c.Request.Context(), id); err != nil {
			logger.WithError(err).Error("delete_pad failed")
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": id})
	}
}

// EncryptFileToPadHandler handles encrypt_file_to_pad: streams the request
// body into the pad's attachment blob.
func EncryptFileToPadHandler(sess *session.Session, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pad id"})
			return
		}

		if err := sess.EncryptFileToPad(c.Request.Context(), id, c.Request.Body); err != nil {
			logger.WithError(err).Error("encrypt_file_to_pad failed")
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": id})
	}
}

// DecryptPadToFileHandler handles decrypt_pad_to_file: decrypts the
// attachment directly onto a path on the server's filesystem.
func DecryptPadToFileHandler(sess *session.Session, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pad id"})
			return
		}
		destPath := c.Query("path")
		if destPath == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "path query parameter is required"})
			return
		}

		if err := sess.DecryptPadToFile(c.Request.Context(), id, destPath); err != nil {
			logger.WithError(err).Error("decrypt_pad_to_file failed")
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": id, "path": destPath})
	}
}

// DecryptPadToBlobHandler handles decrypt_pad_to_blob: decrypts the
// attachment and streams it back as the response body. The original
// command sniffs a media type via a crate with no pack equivalent; this
// always serves application/octet-stream instead.
func DecryptPadToBlobHandler(sess *session.Session, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pad id"})
			return
		}

		data, err := sess.DecryptPadToBlob(c.Request.Context(), id)
		if err != nil {
			logger.WithError(err).Error("decrypt_pad_to_blob failed")
			writeError(c, err)
			return
		}

		c.DataFromReader(http.StatusOK, int64(len(data)), "application/octet-stream", bytes.NewReader(data), nil)
	}
}

// DecryptPadHandler handles decrypt_pad: decrypts a pad's text body.
func DecryptPadHandler(sess *session.Session, logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pad id"})
			return
		}

		text, err := sess.DecryptPad(c.Request.Context(), id)
		if err != nil {
			logger.WithError(err).Error("decrypt_pad failed")
			writeError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": id, "text": text})
	}
}

// writeError maps a session/store/crypto/attachment error to the HTTP
// status and body the original spec's error taxonomy calls for.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrLocked):
		c.JSON(http.StatusLocked, gin.H{"error": "vault is locked", "code": "LOCKED"})
	case errors.Is(err, session.ErrAlreadyUnlocked):
		c.JSON(http.StatusConflict, gin.H{"error": "vault is already unlocked", "code": "ALREADY_UNLOCKED"})
	case errors.Is(err, session.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed unlock attempts", "code": "RATE_LIMITED"})
	case errors.Is(err, store.ErrStoreUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable", "code": "STORE_UNAVAILABLE"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": "NOT_FOUND"})
	case errors.Is(err, store.ErrStoreError):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store error", "code": "STORE_ERROR"})
	case errors.Is(err, cpcrypto.ErrCryptoFailure):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "decryption failed", "code": "CRYPTO_FAILURE"})
	case errors.Is(err, attachment.ErrCorruptAttachment):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "corrupt attachment", "code": "CORRUPT_ATTACHMENT"})
	case errors.Is(err, attachment.ErrFileTooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large", "code": "FILE_TOO_LARGE"})
	case errors.Is(err, io.ErrUnexpectedEOF):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unexpected end of upload", "code": "BAD_UPLOAD"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "code": "INTERNAL"})
	}
}
