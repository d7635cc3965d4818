//go:build !linux

package link

import "errors"

func init() {
	for _, name := range []string{TypeAFPacket, TypeRawSock, TypeTap} {
		Register(name, func(Config) (Device, error) { return nil, errors.ErrUnsupported })
	}
}
