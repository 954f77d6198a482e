package store

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/logger"
	"golang.org/x/sys/unix"
)

const (
	mountCmd       = "/bin/mount"
	umountCmd      = "/bin/umount"
	defaultTimeout = 10 * time.Second
)

// Medium gives access to the record region of the device.
type Medium interface {
	// Attach makes the record region readable.
	Attach(ctx context.Context) (Region, error)
	// Reset brings the medium back to a detached state before a retry.
	Reset(ctx context.Context) error
}

// Region is a readable record region. Offset 0 is FileOffset in the data file.
type Region interface {
	Bytes() []byte
	Close() error
}

// FileMedium maps a record file that is already reachable, e.g. a medium
// mounted by fstab automount or a copied disk image.
type FileMedium struct {
	Path string
}

func (m *FileMedium) Attach(_ context.Context) (Region, error) {
	return mapFile(m.Path)
}

func (*FileMedium) Reset(_ context.Context) error {
	return nil
}

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

// MountMedium mounts MountPoint for the lifetime of each attachment. The
// mount point must be listed in fstab, as mount(8) is called with it alone.
// A mount point left mounted by someone else makes mount(8) fail; the
// store's Reset-then-Attach retry unmounts it first.
type MountMedium struct {
	MountPoint string
	DataFile   string
	Timeout    time.Duration
	Logger     logger.Logger
	Run        Runner
}

// NewMountMedium returns a medium mounting mountPoint and mapping dataFile
// inside it.
func NewMountMedium(mountPoint, dataFile string, timeout time.Duration, log logger.Logger) *MountMedium {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &MountMedium{
		MountPoint: mountPoint,
		DataFile:   dataFile,
		Timeout:    timeout,
		Logger:     log.WithComponent("medium"),
		Run:        runCommand,
	}
}

func (m *MountMedium) Attach(ctx context.Context) (Region, error) {
	errFactory := errors.New()

	if err := m.exec(ctx, mountCmd, m.MountPoint); err != nil {
		return nil, errFactory.Wrap(ErrMountFailed, err)
	}

	region, err := mapFile(filepath.Join(m.MountPoint, m.DataFile))
	if err != nil {
		m.unmount(ctx)
		return nil, err
	}

	m.Logger.Debug().Str("mount_point", m.MountPoint).Msg("Medium attached")

	return &mountedRegion{Region: region, medium: m}, nil
}

// Reset unmounts the mount point. Failure is expected when nothing is mounted.
func (m *MountMedium) Reset(ctx context.Context) error {
	if err := m.exec(ctx, umountCmd, m.MountPoint); err != nil {
		m.Logger.Debug().Err(err).Str("mount_point", m.MountPoint).Msg("Reset unmount failed")
		return errors.New().Wrap(ErrUnmountFailed, err)
	}

	return nil
}

func (m *MountMedium) unmount(ctx context.Context) {
	if err := m.exec(ctx, umountCmd, m.MountPoint); err != nil {
		m.Logger.Warn().Err(err).Str("mount_point", m.MountPoint).Msg("Failed to unmount medium")
	}
}

func (m *MountMedium) exec(ctx context.Context, name string, args ...string) error {
	ctx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	return m.Run(ctx, name, args...)
}

type mountedRegion struct {
	Region
	medium *MountMedium
}

// Close unmaps before unmounting; the unmount runs even if unmapping failed.
func (r *mountedRegion) Close() error {
	err := r.Region.Close()
	r.medium.unmount(context.Background())

	return err
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	data := struct {
		Command string
		Status  int
		Output  string
	}{
		Command: name,
		Output:  string(out),
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		data.Status = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		return errors.New().Wrap(errors.ErrTimeout, ctx.Err())
	}

	return errors.New().WithData(errors.ErrOperationFailed, data)
}

// fileRegion is a read-only mapping of the data file from FileOffset.
type fileRegion struct {
	file *os.File
	data []byte
}

func (r *fileRegion) Bytes() []byte {
	return r.data
}

func (r *fileRegion) Close() error {
	var errs []error
	if r.data != nil {
		if err := unix.Munmap(r.data); err != nil {
			errs = append(errs, err)
		}
		r.data = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil {
			errs = append(errs, err)
		}
		r.file = nil
	}
	if len(errs) > 0 {
		return errors.New().Wrap(ErrMapFailed, errs[0])
	}

	return nil
}

func mapFile(path string) (Region, error) {
	errFactory := errors.New()

	file, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrMapFailed, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errFactory.Wrap(ErrMapFailed, err)
	}

	size := info.Size() - FileOffset
	if size < HeaderSize+SlotSize {
		file.Close()
		return nil, errFactory.WithData(ErrRegionTooSmall, struct {
			Path string
			Size int64
		}{
			Path: path,
			Size: info.Size(),
		})
	}

	data, err := unix.Mmap(int(file.Fd()), FileOffset, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		return nil, errFactory.Wrap(ErrMapFailed, err)
	}

	return &fileRegion{file: file, data: data}, nil
}
