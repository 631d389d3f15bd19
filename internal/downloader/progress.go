package downloader

import "io"

// progressReader counts bytes as they are read.
type progressReader struct {
	r      io.Reader
	read   int64
	onRead func(read int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.onRead(p.read)
	}

	return n, err
}
