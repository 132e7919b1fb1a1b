// Package auth issues and verifies the bearer tokens transcode workers
// present when reporting on a job.
package auth

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/mediavault/internal/common"
	"github.com/dmitrijs2005/mediavault/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims carry the job context a token is bound to.
type Claims struct {
	jwt.RegisteredClaims
	JobID        string `json:"job_id"`
	MediaID      string `json:"media_id"`
	SourceFileID string `json:"source_file_id"`
}

func GenerateJobToken(jc models.JobContext, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   jc.JobID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		JobID:        jc.JobID,
		MediaID:      jc.MediaID,
		SourceFileID: jc.SourceFileID,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

func ParseJobToken(tokenString string, secretKey []byte) (models.JobContext, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.JobContext{}, common.ErrTokenExpired
		}
		return models.JobContext{}, common.ErrInvalidToken
	}

	if !token.Valid || claims.JobID == "" {
		return models.JobContext{}, common.ErrInvalidToken
	}

	return models.JobContext{JobID: claims.JobID, MediaID: claims.MediaID, SourceFileID: claims.SourceFileID}, nil
}
