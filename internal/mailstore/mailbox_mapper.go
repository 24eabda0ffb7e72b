package mailstore

import "context"

// MailboxMapper is the mailbox-tree access contract every backend adapter
// exposes to a session. Save must reject a path collision with
// ErrMailboxExists, never silently overwrite; Delete never requires the
// mailbox to be childless (children stay under their existing paths,
// never cascade-deleted); Save never
// requires the parent path to already exist, matching flat-namespace
// backends that don't maintain real tree nodes.
type MailboxMapper[ID comparable] interface {
	FindByPath(ctx context.Context, namespace, owner, path string) (*Mailbox[ID], error)
	FindWithPathLike(ctx context.Context, namespace, owner, pattern string) ([]*Mailbox[ID], error)
	HasChildren(ctx context.Context, mbox *Mailbox[ID]) (bool, error)
	Save(ctx context.Context, mbox *Mailbox[ID]) error
	Delete(ctx context.Context, mbox *Mailbox[ID]) error
	List(ctx context.Context, namespace, owner string) ([]*Mailbox[ID], error)
}

// IsInbox reports whether path names the reserved INBOX mailbox, whose
// name is case-insensitive per RFC 3501 but otherwise a plain path
// component like any other.
func IsInbox(path string) bool {
	return len(path) == 5 &&
		(path[0] == 'I' || path[0] == 'i') &&
		(path[1] == 'N' || path[1] == 'n') &&
		(path[2] == 'B' || path[2] == 'b') &&
		(path[3] == 'O' || path[3] == 'o') &&
		(path[4] == 'X' || path[4] == 'x')
}
