package main

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/blake2b"

	"github.com/orneryd/refstore/pkg/pool"
	"github.com/orneryd/refstore/pkg/storage"
)

func (a *app) runBuild(cmd *cobra.Command, args []string) error {
	outPath, _ := cmd.Flags().GetString("out")
	root, _ := cmd.Flags().GetInt32("root")
	next, _ := cmd.Flags().GetInt32("next")

	store := storage.NewStoreWithOptions(storage.StoreOptions{
		Logger:          a.logger,
		CheckInvariants: a.cfg.Store.CheckInvariants,
	})

	var journal *storage.Journal
	if a.cfg.Journal.Enabled {
		j, err := storage.OpenJournal(storage.JournalOptions{
			MaxEntries: a.cfg.Journal.MaxEntries,
			Logger:     a.logger,
		})
		if err != nil {
			return err
		}
		defer j.Close()
		journal = j
	}

	inputs := args
	if len(inputs) == 0 {
		inputs = []string{"-"}
	}

	var maxRef storage.Ref
	for _, name := range inputs {
		edges, err := readEdgesFile(cmd.InOrStdin(), name)
		if err != nil {
			return err
		}
		for _, e := range edges {
			maxRef = max(maxRef, e.Source, e.Relation, e.Target)
		}
		if _, err := store.PutAll(edges...); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if err := record(journal, store.Commit()); err != nil {
			return err
		}
	}

	if !cmd.Flags().Changed("next") {
		next = maxRef + 1
	}
	store.SetRootRef(root)
	store.SetNextRef(next)
	if err := record(journal, store.Commit()); err != nil {
		return err
	}

	state := store.Snapshot()
	if journal != nil {
		replayed, err := journal.StateAt(journal.Sequence())
		if err != nil {
			return err
		}
		if !replayed.Equal(state) || replayed.NextRef() != state.NextRef() || replayed.RootRef() != state.RootRef() {
			return fmt.Errorf("journal replay diverged from the built state")
		}
		a.logger.WithField("sequence", journal.Sequence()).
			WithField("entries", journal.Len()).
			Info("journal verified")
	}

	data := state.ToBytesOrder(a.cfg.ByteOrder())
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d edges (%s) to %s\n",
		state.Len(), humanize.IBytes(uint64(len(data))), filepath.Base(outPath))
	return nil
}

func record(journal *storage.Journal, u *storage.Update) error {
	if journal == nil {
		return nil
	}
	_, err := journal.Record(u)
	return err
}

func (a *app) runInspect(cmd *cobra.Command, args []string) error {
	data, state, err := a.loadState(args[0])
	if err != nil {
		return err
	}

	relations := make(map[storage.Ref]struct{})
	for e := range state.Edges() {
		relations[e.Relation] = struct{}{}
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-12s %s\n", "file:", filepath.Base(args[0]))
	fmt.Fprintf(w, "%-12s %s\n", "byte order:", a.cfg.Codec.ByteOrder)
	fmt.Fprintf(w, "%-12s %d\n", "root:", state.RootRef())
	fmt.Fprintf(w, "%-12s %d\n", "next:", state.NextRef())
	fmt.Fprintf(w, "%-12s %d\n", "edges:", state.Len())
	fmt.Fprintf(w, "%-12s %d\n", "sources:", state.SourceCount())
	fmt.Fprintf(w, "%-12s %d\n", "targets:", state.TargetCount())
	fmt.Fprintf(w, "%-12s %d\n", "relations:", len(relations))
	fmt.Fprintf(w, "%-12s %s\n", "size:", humanize.IBytes(uint64(len(data))))
	fmt.Fprintf(w, "%-12s %s\n", "fingerprint:", fingerprint(state))
	return nil
}

func (a *app) runEdges(cmd *cobra.Command, args []string) error {
	_, state, err := a.loadState(args[0])
	if err != nil {
		return err
	}
	return writeEdges(cmd.OutOrStdout(), "", state.EdgeList())
}

func (a *app) runDiff(cmd *cobra.Command, args []string) error {
	_, before, err := a.loadState(args[0])
	if err != nil {
		return err
	}
	_, after, err := a.loadState(args[1])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	u := storage.NewUpdate(before, after)
	if err := writeEdges(w, "+ ", u.PutState().EdgeList()); err != nil {
		return err
	}
	if err := writeEdges(w, "- ", u.PopState().EdgeList()); err != nil {
		return err
	}
	if before.NextRef() != after.NextRef() {
		fmt.Fprintf(w, "~ next %d -> %d\n", before.NextRef(), after.NextRef())
	}
	if before.RootRef() != after.RootRef() {
		fmt.Fprintf(w, "~ root %d -> %d\n", before.RootRef(), after.RootRef())
	}
	return nil
}

func (a *app) loadState(path string) ([]byte, *storage.State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read state: %w", err)
	}
	state, err := storage.FromBytesOrder(data, a.cfg.ByteOrder())
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return data, state, nil
}

func writeEdges(w io.Writer, prefix string, edges []storage.Edge) error {
	sb := pool.GetStringBuilder()
	defer pool.PutStringBuilder(sb)

	for _, e := range edges {
		sb.WriteString(prefix)
		sb.WriteString(strconv.FormatInt(int64(e.Source), 10))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatInt(int64(e.Relation), 10))
		sb.WriteByte(' ')
		sb.WriteString(strconv.FormatInt(int64(e.Target), 10))
		sb.WriteByte('\n')
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// readEdgesFile parses "source relation target" lines. The name "-" reads stdin.
func readEdgesFile(stdin io.Reader, name string) ([]storage.Edge, error) {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open edges: %w", err)
		}
		defer f.Close()
		r = f
	}

	var edges []storage.Edge
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 3 {
			return nil, fmt.Errorf("%s:%d: expected 3 references, got %d", name, line, len(fields))
		}
		var refs [3]storage.Ref
		for i, field := range fields {
			v, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid reference %q", name, line, field)
			}
			if v == 0 {
				return nil, fmt.Errorf("%s:%d: zero reference", name, line)
			}
			refs[i] = storage.Ref(v)
		}
		edges = append(edges, storage.Edge{Source: refs[0], Relation: refs[1], Target: refs[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return edges, nil
}

// fingerprint hashes the counters and the sorted edges, so equal states have
// equal fingerprints whatever their encoded layout.
func fingerprint(state *storage.State) string {
	buf := pool.GetByteBuffer()
	defer func() { pool.PutByteBuffer(buf) }()

	buf = binary.LittleEndian.AppendUint32(buf, uint32(state.RootRef()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(state.NextRef()))
	for _, e := range state.EdgeList() {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.Source))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.Relation))
		buf = binary.LittleEndian.AppendUint32(buf, uint32(e.Target))
	}
	sum := blake2b.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
