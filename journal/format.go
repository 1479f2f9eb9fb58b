package journal

import (
	"fmt"
	"strings"
	"time"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Format renders the record as the multi-line text used by the read
// tool. seq is the event counter; when showOffset is set the device
// offset and encoded length are included on the first line.
func (r *Record) Format(seq int, offset int64, showOffset bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "  %-7d", seq)
	if showOffset {
		fmt.Fprintf(&b, " @%-10d len=%-5d", offset, r.Length)
	}
	fmt.Fprintf(&b, " %10d.%03d (%s)\n",
		r.Time.Unix(), r.Time.Nanosecond()/1000000,
		r.Time.Format(timeLayout))
	if r.Op != OpDebug {
		op, ba := r.Op, "after"
		if op < 0 {
			op, ba = -op, "before"
		}
		fmt.Fprintf(&b, "          %s op#%-2d %-16s -> %d\n",
			ba, int32(op), op.String(), r.Result)
	}
	if r.Creds != nil {
		c := r.Creds
		fmt.Fprintf(&b, "          UID %d, EUID %d, FSUID %d, "+
			"GID %d, EGID %d, FSGID %d\n",
			c.UID, c.EUID, c.FSUID, c.GID, c.EGID, c.FSGID)
	}
	if r.Op != OpDebug {
		if r.Flags&FlagFile1 != 0 {
			fmt.Fprintf(&b, "          [%s]\n", r.File1)
		}
		if r.Flags&FlagFile2 != 0 {
			fmt.Fprintf(&b, "          [%s]\n", r.File2)
		}
	}
	switch r.Flags & DataMask {
	case FlagAttr:
		formatAttr(&b, "          attr:", "               ", "\n", r.Attr)
	case FlagRegion:
		fmt.Fprintf(&b, "          id=%d region=%d:%d\n",
			r.Region.FileID, r.Region.Start, r.Region.Length)
	case FlagFileID:
		fmt.Fprintf(&b, "          id=%d\n", r.FileID)
	case FlagSize:
		fmt.Fprintf(&b, "          size=%d\n", r.Size)
	case FlagACL:
		formatACL(&b, r.ACL)
	case FlagXattr:
		x := r.Xattr
		fmt.Fprintf(&b, "          xattr[%s, %x]=%d[%s]\n",
			x.Name, x.Flags, len(x.Value), escapeValue(x.Value))
	case FlagHash:
		h := r.Hash
		fmt.Fprintf(&b, "          id=%d region=%d:%d\n",
			h.FileID, h.Start, h.Length)
		fmt.Fprintf(&b, "          data_hash=%x\n", h.Digest[:])
	case FlagData:
		d := r.Data
		fmt.Fprintf(&b, "          id=%d region=%d:%d\n",
			d.FileID, d.Start, d.Length)
		fmt.Fprintf(&b, "          data=%x\n", d.Bytes)
	}
	if r.Op == OpDebug {
		fmt.Fprintf(&b, "          DEBUG (%s:%d) %s\n",
			r.File2, r.Result, r.File1)
	}
	return b.String()
}

// FormatDebug renders a debug record as the single line used when
// following the journal; non-debug records render as empty.
func (r *Record) FormatDebug() string {
	if r.Op != OpDebug {
		return ""
	}
	return fmt.Sprintf("%10d.%03d %s %s:%d %s\n",
		r.Time.Unix(), r.Time.Nanosecond()/1000000,
		r.Time.Format(timeLayout), r.File2, r.Result, r.File1)
}

// formatAttr prints only the fields the attr flags select, folding the
// line at 80 columns.
func formatAttr(b *strings.Builder, head1, head2, tail string, a *Attr) {
	line := len(head1)
	b.WriteString(head1)
	emit := func(s string) {
		if line+len(s) > 80 && line > len(head1) {
			b.WriteString(tail)
			b.WriteString(head2)
			line = len(head2)
		}
		b.WriteString(s)
		line += len(s)
	}
	if a.Flags&AttrMode != 0 {
		emit(fmt.Sprintf(" mode=%04o", a.Mode))
	}
	if a.Flags&AttrUser != 0 {
		emit(fmt.Sprintf(" uid=%d", a.User))
	}
	if a.Flags&AttrGroup != 0 {
		emit(fmt.Sprintf(" gid=%d", a.Group))
	}
	if a.Flags&(AttrBlock|AttrChar|AttrSize) != 0 {
		if a.Flags&AttrSize != 0 {
			emit(fmt.Sprintf(" size=%d", a.Size))
		} else {
			dev := byte('c')
			if a.Flags&AttrBlock != 0 {
				dev = 'b'
			}
			emit(fmt.Sprintf(" %cdev=%x:%x",
				dev, a.Size>>32, a.Size&0xffffffff))
		}
	}
	if a.Flags&AttrAtime != 0 {
		emit(formatAttrTime("atime", a.AtimeSec, a.AtimeNsec))
	}
	if a.Flags&AttrMtime != 0 {
		emit(formatAttrTime("mtime", a.MtimeSec, a.MtimeNsec))
	}
	b.WriteString(tail)
}

func formatAttrTime(what string, sec uint64, nsec uint32) string {
	t := time.Unix(int64(sec), 0)
	return fmt.Sprintf(" %s=%d.%03d (%s)",
		what, sec, nsec/1000000, t.Format(timeLayout))
}

func formatACL(b *strings.Builder, acl *ACL) {
	b.WriteString("          acl[")
	if acl.Perm&ACLAccess != 0 {
		b.WriteString("access")
	} else {
		b.WriteString("default")
	}
	b.WriteString("]")
	formatPerm(b, '=', 'u', -1, acl.Perm)
	formatPerm(b, ',', 'g', -1, acl.Perm>>7)
	formatPerm(b, ',', 'o', -1, acl.Perm>>14)
	formatPerm(b, ',', 'm', -1, acl.Perm>>21)
	for _, e := range acl.Entries {
		who := byte('u')
		if e.Type&ACLAccess != 0 {
			who = 'g'
		}
		formatPerm(b, ',', who, int64(e.Name), e.Type)
	}
	b.WriteString("\n")
}

func formatPerm(b *strings.Builder, sep, who byte, id int64, perm uint32) {
	b.WriteByte(sep)
	b.WriteByte(who)
	b.WriteByte(':')
	if id >= 0 {
		fmt.Fprintf(b, "%d", id)
	}
	b.WriteByte(':')
	for _, p := range []struct {
		bit uint32
		ch  byte
	}{{ACLRead, 'r'}, {ACLWrite, 'w'}, {ACLExecute, 'x'}} {
		if perm&p.bit != 0 {
			b.WriteByte(p.ch)
		} else {
			b.WriteByte('-')
		}
	}
	switch perm & (ACLAdd | ACLDelete) {
	case ACLAdd:
		b.WriteByte('a')
	case ACLDelete:
		b.WriteByte('d')
	}
}

func escapeValue(value []byte) string {
	var b strings.Builder
	for _, c := range value {
		if c >= 0x20 && c < 0x7f && c != '%' {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}
