package kernel

// File is an open file description shared by duplicated descriptors.
type File struct {
	ref int // reference count
	ip  *Inode
}

// Inode is an in-memory inode.
type Inode struct {
	ref   int       // Reference count
	lock  sleeplock // protects everything below here
	path  string
	valid bool // inode has been looked up and not yet dropped
}

func (ip *Inode) Path() string { return ip.path }

// FileSystem is what the process layer needs from the file system:
// descriptor sharing on fork, release on exit, and the working
// directory.
type FileSystem interface {
	Open(path string) *File
	Filedup(f *File) *File
	Fileclose(f *File)
	Namei(path string) *Inode
	Idup(ip *Inode) *Inode
	Ilock(p *Proc, ip *Inode)
	Iunlock(p *Proc, ip *Inode)
	Iput(p *Proc, ip *Inode)
	BeginOp()
	EndOp()
}

// memfs keeps reference-counted inodes in a table keyed by path.
type memfs struct {
	k *Kernel

	ftable spinlock
	itable spinlock
	inodes map[string]*Inode

	log         spinlock
	outstanding int // how many FS sys calls are executing.
}

func newMemFS(k *Kernel) *memfs {
	fs := &memfs{k: k, inodes: make(map[string]*Inode)}
	initlock(&fs.ftable, "ftable")
	initlock(&fs.itable, "itable")
	initlock(&fs.log, "log")
	return fs
}

// Open allocates a file structure for path.
func (fs *memfs) Open(path string) *File {
	ip := fs.Namei(path)
	acquire(&fs.ftable)
	defer release(&fs.ftable)
	return &File{ref: 1, ip: ip}
}

// Increment ref count for file f.
func (fs *memfs) Filedup(f *File) *File {
	acquire(&fs.ftable)
	defer release(&fs.ftable)
	if f.ref < 1 {
		panic("filedup")
	}
	f.ref++
	return f
}

// Close file f. (Decrement ref count, close when reaches 0.)
func (fs *memfs) Fileclose(f *File) {
	acquire(&fs.ftable)
	if f.ref < 1 {
		release(&fs.ftable)
		panic("fileclose")
	}
	f.ref--
	if f.ref > 0 {
		release(&fs.ftable)
		return
	}
	ip := f.ip
	f.ip = nil
	release(&fs.ftable)

	if ip != nil {
		fs.BeginOp()
		fs.put(ip)
		fs.EndOp()
	}
}

// Namei finds or creates the inode for path and returns a new
// reference to it.
func (fs *memfs) Namei(path string) *Inode {
	acquire(&fs.itable)
	defer release(&fs.itable)
	ip, ok := fs.inodes[path]
	if !ok {
		ip = &Inode{path: path, valid: true}
		initsleeplock(&ip.lock, "inode")
		fs.inodes[path] = ip
	}
	ip.ref++
	return ip
}

// Increment reference count for ip.
func (fs *memfs) Idup(ip *Inode) *Inode {
	acquire(&fs.itable)
	ip.ref++
	release(&fs.itable)
	return ip
}

// Lock the given inode.
func (fs *memfs) Ilock(p *Proc, ip *Inode) {
	if ip == nil {
		panic("ilock")
	}
	fs.k.acquiresleep(p, &ip.lock)
	ip.valid = true
}

// Unlock the given inode.
func (fs *memfs) Iunlock(p *Proc, ip *Inode) {
	if ip == nil || !holdingsleep(p, &ip.lock) {
		panic("iunlock")
	}
	fs.k.releasesleep(p, &ip.lock)
}

// Drop a reference to an in-memory inode. The last reference takes the
// inode lock and drops the inode from the table.
func (fs *memfs) Iput(p *Proc, ip *Inode) {
	if ip == nil {
		return
	}
	acquire(&fs.itable)
	if ip.ref == 1 && ip.valid {
		// ref == 1 means no other process can have ip locked,
		// so this acquiresleep() won't block (or deadlock).
		release(&fs.itable)
		fs.Ilock(p, ip)
		ip.valid = false
		fs.Iunlock(p, ip)
		acquire(&fs.itable)
	}
	fs.dropLocked(ip)
	release(&fs.itable)
}

// put drops a reference without process context.
func (fs *memfs) put(ip *Inode) {
	acquire(&fs.itable)
	fs.dropLocked(ip)
	release(&fs.itable)
}

// caller holds fs.itable.
func (fs *memfs) dropLocked(ip *Inode) {
	if ip.ref < 1 {
		panic("iput")
	}
	ip.ref--
	if ip.ref == 0 {
		delete(fs.inodes, ip.path)
	}
}

// called at the start of each FS system call.
func (fs *memfs) BeginOp() {
	acquire(&fs.log)
	fs.outstanding++
	release(&fs.log)
}

// called at the end of each FS system call.
func (fs *memfs) EndOp() {
	acquire(&fs.log)
	fs.outstanding--
	if fs.outstanding < 0 {
		release(&fs.log)
		panic("end_op")
	}
	release(&fs.log)
}

func (fs *memfs) fileRef(f *File) int {
	acquire(&fs.ftable)
	defer release(&fs.ftable)
	return f.ref
}

func (fs *memfs) inodeRef(path string) int {
	acquire(&fs.itable)
	defer release(&fs.itable)
	if ip, ok := fs.inodes[path]; ok {
		return ip.ref
	}
	return 0
}
