package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// writeErrResp writes err as a JSON response body with the given status.
func writeErrResp(rw http.ResponseWriter, err error, status int) {
	buf, merr := json.Marshal(map[string]string{
		"error": err.Error(),
	})
	if merr != nil {
		logger.WithError(merr).Error("unable to marshal error response")

		rw.WriteHeader(http.StatusInternalServerError)
		return
	}

	rw.WriteHeader(status)
	rw.Write(buf)
}

// sendWithBackoff tries to get msg onto ch, backing off between
// attempts. The bus being down shouldn't fail the HTTP request that
// produced the message, so this runs in its own goroutine and
// eventually gives up.
func sendWithBackoff(logger *logrus.Entry, ch chan<- []byte, msg []byte) {
	wait := 100 * time.Millisecond

	for try := 0; try < 5; try++ {
		select {
		case ch <- msg:
			logger.Debug("message sent")
			return
		case <-time.After(wait):
			wait = wait * 2
			logger.WithField("wait", wait).
				Warn("unable to send message, backing off")
		}
	}

	logger.Error("giving up on sending message")
}
