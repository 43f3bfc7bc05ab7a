package librarypage

import "time"

func (l *LibraryPage) WriteTimeout() time.Duration {
	return l.server.WriteTimeout
}
