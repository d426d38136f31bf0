package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type attempt struct{ i, max int }

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (a attempt) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("attempt", a.i)
	enc.AddInt("totalAttempts", a.max)
	return nil
}

// RetryAttempt is a Field that encodes the current retry (0-indexed) and the total number of
// retries.  It's intended for a for loop where "i" is the loop iterator and "max" is the upper
// bound "i < max".  A max of 0 means unbounded.
func RetryAttempt(i int, max int) Field {
	return zap.Inline(&attempt{i: i, max: max})
}

// Revision is a Field holding a revision number.
func Revision(name string, rev int64) Field {
	return zap.Int64(name, rev)
}

// Path is a Field holding a filesystem path.
func Path(p string) Field {
	return zap.String("path", p)
}

// Txn is a Field holding a transaction id.
func Txn(id string) Field {
	return zap.String("txn", id)
}
