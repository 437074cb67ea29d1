package booking

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// NewReference builds a human-facing booking reference of the form
// YONO-<last 8 digits of unix ms>-<4 uppercase hex>.
func NewReference(now time.Time, random func(buffer []byte) error) (string, error) {
	if random == nil {
		random = readRandom
	}
	millis := strconv.FormatInt(now.UnixMilli(), 10)
	if len(millis) > referenceTimeDigits {
		millis = millis[len(millis)-referenceTimeDigits:]
	} else {
		millis = strings.Repeat("0", referenceTimeDigits-len(millis)) + millis
	}
	buffer := make([]byte, referenceRandomBytes)
	if err := random(buffer); err != nil {
		return "", WrapError(errorOperationService, errorSubjectReference, errorCodeGenerate, err)
	}
	return referencePrefix + "-" + millis + "-" + strings.ToUpper(hex.EncodeToString(buffer)), nil
}

func readRandom(buffer []byte) error {
	_, err := rand.Read(buffer)
	return err
}
