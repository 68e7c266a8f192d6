//go:build !unix

package terminal

import "context"

func watchSuspend(ctx context.Context, screen *Screen, visibility func(hidden bool)) func() {
	return func() {}
}
