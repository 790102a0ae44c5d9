package htram

// maxPending 未完成帧的最大缓冲字节数，超过即丢弃
const maxPending = 512

// Reassembler 把 BLE 通知分片拼成完整帧
// 以 0x7B 对齐，按长度字段计算总长（len+4）；结束字节不符的半帧被丢弃
type Reassembler struct {
	buf     []byte
	dropped int
}

// NewReassembler 创建拼帧器
func NewReassembler() *Reassembler { return &Reassembler{} }

// Feed 追加一个通知分片，返回本次拼出的完整原始帧
func (r *Reassembler) Feed(chunk []byte) [][]byte {
	r.buf = append(r.buf, chunk...)
	var out [][]byte
	for {
		// 丢弃起始符之前的噪声
		i := 0
		for i < len(r.buf) && r.buf[i] != StartByte {
			i++
		}
		if i > 0 {
			r.buf = r.buf[i:]
			r.dropped += i
		}
		if len(r.buf) < 4 {
			return out
		}
		total := int(r.buf[3]) + 4
		if total < MinFrameSize {
			r.discard(1)
			continue
		}
		if len(r.buf) < total {
			if len(r.buf) > maxPending {
				r.discard(len(r.buf))
			}
			return out
		}
		if r.buf[total-1] != EndByte {
			r.discard(1)
			continue
		}
		frame := make([]byte, total)
		copy(frame, r.buf[:total])
		out = append(out, frame)
		r.buf = r.buf[total:]
	}
}

// Reset 丢弃未完成的半帧（超时或重新订阅时调用）
func (r *Reassembler) Reset() {
	r.dropped += len(r.buf)
	r.buf = r.buf[:0]
}

// Pending 当前缓冲的字节数
func (r *Reassembler) Pending() int { return len(r.buf) }

// Dropped 累计丢弃的字节数
func (r *Reassembler) Dropped() int { return r.dropped }

func (r *Reassembler) discard(n int) {
	r.buf = r.buf[n:]
	r.dropped += n
}
