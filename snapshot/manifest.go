package snapshot

import (
	"archive/zip"
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/veraison/go-cose"

	"github.com/mw-node/txhashset/chain"
	"github.com/mw-node/txhashset/txhashseterr"
)

const manifestEntryName = "manifest.cose"

// ManifestFile describes one archived snapshot file: its on-disk name and
// the randomized member name it was archived under, so extraction doesn't
// depend on the zip's directory listing order.
type ManifestFile struct {
	Name        string `cbor:"1,keyasint"`
	ArchiveName string `cbor:"2,keyasint"`
	Size        int64  `cbor:"3,keyasint"`
}

// Manifest is the CBOR payload signed into manifest.cose: the header the
// snapshot was taken at, and the files it contains — a syncing peer checks
// the signature before trusting either.
type Manifest struct {
	Height            uint64         `cbor:"1,keyasint"`
	Hash              [32]byte       `cbor:"2,keyasint"`
	KernelMMRSize     uint64         `cbor:"3,keyasint"`
	OutputMMRSize     uint64         `cbor:"4,keyasint"`
	RangeProofMMRSize uint64         `cbor:"5,keyasint"`
	Files             []ManifestFile `cbor:"6,keyasint"`
}

// ZipForPeer packages every file srcDir's TxHashSet owns into a zip archive
// written to w, signed under signer with ES256 — spec §4.I's zip_for_peer.
// external is additional authenticated data folded into the COSE signature
// (eg the requesting peer's nonce); it may be nil.
func ZipForPeer(srcDir string, w io.Writer, header chain.Header, signer *ecdsa.PrivateKey, external []byte) error {
	zw := zip.NewWriter(w)

	var manifest Manifest
	manifest.Height = header.Height
	manifest.Hash = header.Hash
	manifest.KernelMMRSize = header.KernelMMRSize
	manifest.OutputMMRSize = header.OutputMMRSize
	manifest.RangeProofMMRSize = header.RangeProofMMRSize

	for _, name := range files {
		path := filepath.Join(srcDir, name)
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			zw.Close()
			return fmt.Errorf("%w: stat %s: %v", txhashseterr.ErrIO, path, err)
		}
		archiveName := uuid.NewString() + "-" + name
		if err := addFileToZip(zw, path, archiveName); err != nil {
			zw.Close()
			return err
		}
		manifest.Files = append(manifest.Files, ManifestFile{Name: name, ArchiveName: archiveName, Size: info.Size()})
	}

	signed, err := signManifest(manifest, signer, external)
	if err != nil {
		zw.Close()
		return err
	}
	entry, err := zw.Create(manifestEntryName)
	if err != nil {
		zw.Close()
		return fmt.Errorf("%w: create manifest entry: %v", txhashseterr.ErrIO, err)
	}
	if _, err := entry.Write(signed); err != nil {
		zw.Close()
		return fmt.Errorf("%w: write manifest entry: %v", txhashseterr.ErrIO, err)
	}

	return zw.Close()
}

func addFileToZip(zw *zip.Writer, path, archiveName string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", txhashseterr.ErrIO, path, err)
	}
	defer f.Close()

	entry, err := zw.Create(archiveName)
	if err != nil {
		return fmt.Errorf("%w: create zip entry for %s: %v", txhashseterr.ErrIO, path, err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return fmt.Errorf("%w: write zip entry for %s: %v", txhashseterr.ErrIO, path, err)
	}
	return nil
}

func signManifest(manifest Manifest, signer *ecdsa.PrivateKey, external []byte) ([]byte, error) {
	payload, err := cbor.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("%w: encode manifest: %v", txhashseterr.ErrIO, err)
	}

	coseSigner, err := cose.NewSigner(cose.AlgorithmES256, signer)
	if err != nil {
		return nil, fmt.Errorf("%w: construct cose signer: %v", txhashseterr.ErrIO, err)
	}

	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{
				cose.HeaderLabelAlgorithm: cose.AlgorithmES256,
			},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, external, coseSigner); err != nil {
		return nil, fmt.Errorf("%w: sign manifest: %v", txhashseterr.ErrIO, err)
	}
	raw, err := msg.MarshalCBOR()
	if err != nil {
		return nil, fmt.Errorf("%w: encode signed manifest: %v", txhashseterr.ErrIO, err)
	}
	return raw, nil
}

// VerifyAndExtract reads a zip archive produced by ZipForPeer, verifies its
// manifest against publicKey, and if valid extracts every member it lists
// into destDir. It refuses to extract anything if verification fails.
func VerifyAndExtract(r *zip.Reader, publicKey *ecdsa.PublicKey, external []byte, destDir string) (*Manifest, error) {
	var manifestRaw []byte
	members := map[string]*zip.File{}
	for _, f := range r.File {
		if f.Name == manifestEntryName {
			rc, err := f.Open()
			if err != nil {
				return nil, fmt.Errorf("%w: open manifest entry: %v", txhashseterr.ErrIO, err)
			}
			manifestRaw, err = io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: read manifest entry: %v", txhashseterr.ErrIO, err)
			}
			continue
		}
		members[f.Name] = f
	}
	if manifestRaw == nil {
		return nil, fmt.Errorf("%w: archive has no %s entry", txhashseterr.ErrIO, manifestEntryName)
	}

	var msg cose.Sign1Message
	if err := msg.UnmarshalCBOR(manifestRaw); err != nil {
		return nil, fmt.Errorf("%w: decode signed manifest: %v", txhashseterr.ErrIO, err)
	}
	verifier, err := cose.NewVerifier(cose.AlgorithmES256, publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: construct cose verifier: %v", txhashseterr.ErrIO, err)
	}
	if err := msg.Verify(external, verifier); err != nil {
		return nil, fmt.Errorf("%w: snapshot manifest signature invalid: %v", txhashseterr.ErrInvalidMMRHash, err)
	}

	var manifest Manifest
	if err := cbor.Unmarshal(msg.Payload, &manifest); err != nil {
		return nil, fmt.Errorf("%w: decode manifest payload: %v", txhashseterr.ErrIO, err)
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dest dir %s: %v", txhashseterr.ErrIO, destDir, err)
	}
	for _, mf := range manifest.Files {
		zf, ok := members[mf.ArchiveName]
		if !ok {
			return nil, fmt.Errorf("%w: manifest references missing archive member %s", txhashseterr.ErrIO, mf.ArchiveName)
		}
		if err := extractZipMember(zf, filepath.Join(destDir, mf.Name)); err != nil {
			return nil, err
		}
	}
	return &manifest, nil
}

func extractZipMember(zf *zip.File, dest string) error {
	rc, err := zf.Open()
	if err != nil {
		return fmt.Errorf("%w: open archive member %s: %v", txhashseterr.ErrIO, zf.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", txhashseterr.ErrIO, dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("%w: extract %s: %v", txhashseterr.ErrIO, dest, err)
	}
	return out.Sync()
}
