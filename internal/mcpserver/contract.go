package mcpserver

// BlockFormatContract describes the post block format and the media URL
// conventions that LLM consumers should follow when reading or drafting
// post content.
const BlockFormatContract = `# Blog Block Format Contract

A post body is an ordered JSON array of blocks. Every block is an object with
a unique ` + "`" + `id` + "`" + ` (string) and a ` + "`" + `type` + "`" + `.

## Block types

| type        | fields                                              |
|-------------|-----------------------------------------------------|
| text        | content (HTML string)                               |
| heading     | content, level (1-6)                                |
| code        | content, language                                   |
| image       | src, caption, alt                                   |
| video       | src, caption                                        |
| image-row   | images: [{src, alt, caption}], columns              |

Unknown keys are preserved verbatim.

## Media URLs

- Media lives under ` + "`" + `/media/{username}/...` + "`" + ` (default URL prefix).
- Fresh uploads are served from ` + "`" + `/media/{username}/uploads/{filename}` + "`" + `.
- When a post is saved, every upload referenced from an ` + "`" + `image` + "`" + ` src or an
  ` + "`" + `image-row` + "`" + ` entry src is moved to ` + "`" + `/media/{username}/posts/{slug}/{filename}` + "`" + `
  and the reference is rewritten. Do not construct post-folder URLs yourself;
  reference the upload URL returned by ` + "`" + `upload_media` + "`" + `.
- Only the author's own uploads are moved. References to another user's files
  are left untouched.
- The site-prefixed form ` + "`" + `/blog/media/...` + "`" + ` is accepted and preserved.

## Example

` + "```" + `json
[
  {"id": "h1", "type": "heading", "content": "Day one", "level": 2},
  {"id": "p1", "type": "text", "content": "<p>We reached the coast.</p>"},
  {"id": "i1", "type": "image", "src": "/media/alice/uploads/beach.jpg", "caption": "Beach"},
  {"id": "r1", "type": "image-row", "columns": 2, "images": [
    {"src": "/media/alice/uploads/a.png"},
    {"src": "/media/alice/uploads/b.png"}
  ]}
]
` + "```" + `
`
